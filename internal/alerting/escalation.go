package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the sweeper looks for overdue
// alerts.
const DefaultSweepInterval = 30 * time.Second

// EscalationPolicy controls when an unhandled alert escalates and
// which channels the escalation adds on top of the rule's own.
type EscalationPolicy struct {
	EscalateAfter time.Duration `json:"escalate_after" yaml:"escalate_after"`
	Channels      []Channel     `json:"channels" yaml:"channels"`
}

// DefaultEscalationPolicies returns the severity ladder: the more
// urgent the alert, the sooner it escalates and the louder the added
// channels.
func DefaultEscalationPolicies() map[Severity]EscalationPolicy {
	return map[Severity]EscalationPolicy{
		SeverityLow: {
			EscalateAfter: 60 * time.Minute,
			Channels:      []Channel{ChannelEmail},
		},
		SeverityMedium: {
			EscalateAfter: 30 * time.Minute,
			Channels:      []Channel{ChannelEmail, ChannelSlack},
		},
		SeverityHigh: {
			EscalateAfter: 15 * time.Minute,
			Channels:      []Channel{ChannelEmail, ChannelSlack, ChannelSMS},
		},
		SeverityCritical: {
			EscalateAfter: 5 * time.Minute,
			Channels:      []Channel{ChannelEmail, ChannelSMS, ChannelPagerDuty},
		},
	}
}

// Sweeper periodically escalates alerts that stay unacknowledged past
// their severity deadline.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newSweeper(engine *Engine, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{engine: engine, interval: interval, logger: logger}
}

// Start launches the sweep loop. Starting twice is an error.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("escalation sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)

	s.logger.Info("escalation sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to
// finish. Stopping an idle sweeper is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("escalation sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.engine.CheckEscalations(ctx)
		}
	}
}
