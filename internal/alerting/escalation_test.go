package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEscalationPolicies(t *testing.T) {
	policies := DefaultEscalationPolicies()
	require.Len(t, policies, 4)
	assert.Equal(t, 60*time.Minute, policies[SeverityLow].EscalateAfter)
	assert.Equal(t, 30*time.Minute, policies[SeverityMedium].EscalateAfter)
	assert.Equal(t, 15*time.Minute, policies[SeverityHigh].EscalateAfter)
	assert.Equal(t, 5*time.Minute, policies[SeverityCritical].EscalateAfter)
	assert.Equal(t, []Channel{ChannelEmail, ChannelSMS, ChannelPagerDuty}, policies[SeverityCritical].Channels)
}

func TestSetEscalationPolicyOverride(t *testing.T) {
	engine, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	require.NoError(t, engine.RegisterRule(ctx, engineRule("lagging_jobs", SeverityLow, 600)))
	engine.SetEscalationPolicy(SeverityLow, EscalationPolicy{
		EscalateAfter: time.Minute,
		Channels:      []Channel{ChannelSlack},
	})

	_, err := engine.Evaluate(ctx, "lagging_jobs", 85)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, engine.CheckEscalations(ctx))
	assert.Equal(t, 1, engine.GetActiveAlerts(nil)[0].EscalationLevel)
}

func TestSweeperEscalatesOnTimer(t *testing.T) {
	engine, clock := newTestEngine(t, Config{SweepInterval: 10 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, engine.RegisterRule(ctx, engineRule("db_down", SeverityCritical, 600)))

	_, err := engine.Evaluate(ctx, "db_down", 99)
	require.NoError(t, err)

	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	clock.Advance(6 * time.Minute)
	require.Eventually(t, func() bool {
		actives := engine.GetActiveAlerts(nil)
		return len(actives) == 1 && actives[0].EscalationLevel >= 1
	}, 2*time.Second, 10*time.Millisecond, "sweeper escalates the overdue alert")
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	engine, _ := newTestEngine(t, Config{SweepInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, engine.Start(ctx))
	cancel()
	engine.Stop()
}
