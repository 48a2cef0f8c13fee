package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDispatchDeliversInChannelOrder(t *testing.T) {
	d := NewDispatcher(time.Second, zaptest.NewLogger(t), nil)

	var mu sync.Mutex
	var order []Channel
	record := func(ch Channel) ChannelHandler {
		return HandlerFunc(func(ctx context.Context, alert Alert) error {
			mu.Lock()
			order = append(order, ch)
			mu.Unlock()
			return nil
		})
	}
	d.Register(ChannelEmail, record(ChannelEmail))
	d.Register(ChannelSlack, record(ChannelSlack))
	d.Register(ChannelSMS, record(ChannelSMS))

	alert := Alert{ID: uuid.New(), RuleName: "high_cpu_usage"}
	delivered := d.Dispatch(context.Background(), alert, []Channel{ChannelSlack, ChannelEmail, ChannelSMS})

	assert.Equal(t, 3, delivered)
	assert.Equal(t, []Channel{ChannelSlack, ChannelEmail, ChannelSMS}, order)
}

func TestDispatchSkipsUnregisteredChannel(t *testing.T) {
	d := NewDispatcher(time.Second, zaptest.NewLogger(t), nil)
	handler := &captureHandler{}
	d.Register(ChannelEmail, handler)

	alert := Alert{ID: uuid.New(), RuleName: "high_cpu_usage"}
	delivered := d.Dispatch(context.Background(), alert, []Channel{ChannelEmail, ChannelPagerDuty})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, handler.count())
}

func TestDispatchIsolatesFailures(t *testing.T) {
	d := NewDispatcher(time.Second, zaptest.NewLogger(t), nil)
	broken := &captureHandler{err: errors.New("smtp connection refused")}
	healthy := &captureHandler{}
	d.Register(ChannelEmail, broken)
	d.Register(ChannelSlack, healthy)

	alert := Alert{ID: uuid.New(), RuleName: "high_cpu_usage"}
	delivered := d.Dispatch(context.Background(), alert, []Channel{ChannelEmail, ChannelSlack})

	assert.Equal(t, 1, delivered, "failed channel does not count")
	assert.Equal(t, 1, broken.count(), "failing handler was still attempted")
	assert.Equal(t, 1, healthy.count(), "failure on one channel does not block the next")
}

func TestDispatchTimesOutSlowHandler(t *testing.T) {
	d := NewDispatcher(20*time.Millisecond, zaptest.NewLogger(t), nil)
	d.Register(ChannelWebhook, HandlerFunc(func(ctx context.Context, alert Alert) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}))

	alert := Alert{ID: uuid.New(), RuleName: "high_cpu_usage"}
	start := time.Now()
	delivered := d.Dispatch(context.Background(), alert, []Channel{ChannelWebhook})

	assert.Equal(t, 0, delivered)
	assert.Less(t, time.Since(start), time.Second, "deadline cut the delivery short")
}

func TestAsyncHandlerDeliversInBackground(t *testing.T) {
	inner := &captureHandler{}
	async := NewAsyncHandler(inner, time.Second, zaptest.NewLogger(t))

	alert := Alert{ID: uuid.New(), RuleName: "high_cpu_usage"}
	require.NoError(t, async.Deliver(context.Background(), alert))
	async.Wait()

	assert.Equal(t, 1, inner.count())
	assert.Equal(t, "high_cpu_usage", inner.last().RuleName)
}

func TestAsyncHandlerSwallowsInnerError(t *testing.T) {
	inner := &captureHandler{err: errors.New("webhook returned 500")}
	async := NewAsyncHandler(inner, time.Second, zaptest.NewLogger(t))

	require.NoError(t, async.Deliver(context.Background(), Alert{ID: uuid.New()}))
	async.Wait()
	assert.Equal(t, 1, inner.count())
}
