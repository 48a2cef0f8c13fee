package alerting

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDispatchTimeout bounds a single synchronous delivery.
const DefaultDispatchTimeout = 10 * time.Second

// ChannelHandler delivers one alert notification over a transport.
// Implementations must be safe for concurrent use. A handler error is
// logged and counted; it never aborts delivery on other channels and
// never fails the evaluation that produced the alert.
type ChannelHandler interface {
	Deliver(ctx context.Context, alert Alert) error
}

// HandlerFunc adapts a plain function to ChannelHandler.
type HandlerFunc func(ctx context.Context, alert Alert) error

func (f HandlerFunc) Deliver(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// AsyncHandler wraps another handler to deliver in the background.
// Deliver returns immediately; the wrapped handler runs with its own
// timeout and failures are logged. Wait drains in-flight deliveries
// on shutdown.
type AsyncHandler struct {
	inner   ChannelHandler
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewAsyncHandler(inner ChannelHandler, timeout time.Duration, logger *zap.Logger) *AsyncHandler {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &AsyncHandler{inner: inner, timeout: timeout, logger: logger}
}

func (h *AsyncHandler) Deliver(_ context.Context, alert Alert) error {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.inner.Deliver(ctx, alert); err != nil {
			h.logger.Error("async notification failed",
				zap.String("alert_id", alert.ID.String()),
				zap.String("rule", alert.RuleName),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until all background deliveries have finished.
func (h *AsyncHandler) Wait() { h.wg.Wait() }

// Dispatcher fans an alert out to the handlers registered for its
// channels, in channel order, isolating failures per channel.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Channel]ChannelHandler
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *Metrics
}

func NewDispatcher(timeout time.Duration, logger *zap.Logger, metrics *Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{
		handlers: make(map[Channel]ChannelHandler),
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register installs the handler for a channel, replacing any previous
// one.
func (d *Dispatcher) Register(channel Channel, handler ChannelHandler) {
	d.mu.Lock()
	d.handlers[channel] = handler
	d.mu.Unlock()
	d.logger.Info("channel handler registered", zap.String("channel", string(channel)))
}

func (d *Dispatcher) handler(channel Channel) (ChannelHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[channel]
	return h, ok
}

// Dispatch sends the alert on each channel in order and reports the
// number of deliveries handed off successfully. Channels without a
// registered handler are skipped with a warning.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert, channels []Channel) int {
	delivered := 0
	for _, channel := range channels {
		handler, ok := d.handler(channel)
		if !ok {
			d.logger.Warn("no handler registered for channel",
				zap.String("channel", string(channel)),
				zap.String("rule", alert.RuleName))
			d.metrics.RecordNotification(channel, "unregistered")
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := handler.Deliver(sendCtx, alert)
		cancel()
		if err != nil {
			deliveryErr := &ChannelDeliveryError{Channel: channel, Err: err}
			d.logger.Error("notification delivery failed",
				zap.String("alert_id", alert.ID.String()),
				zap.String("rule", alert.RuleName),
				zap.Error(deliveryErr))
			d.metrics.RecordNotification(channel, "failed")
			continue
		}

		delivered++
		d.metrics.RecordNotification(channel, "sent")
	}
	return delivered
}
