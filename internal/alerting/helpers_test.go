package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

var testStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// captureHandler records delivered alerts and optionally fails every
// delivery.
type captureHandler struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (h *captureHandler) Deliver(_ context.Context, alert Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, alert)
	return h.err
}

func (h *captureHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.alerts)
}

func (h *captureHandler) last() Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alerts[len(h.alerts)-1]
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock(testStart)
	engine := NewEngine(cfg, zaptest.NewLogger(t), WithClock(clock))
	return engine, clock
}

func severityPtr(s Severity) *Severity { return &s }
