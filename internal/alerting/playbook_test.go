package alerting

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPlaybooks(t *testing.T, hooks PlaybookHooks) *PlaybookRegistry {
	t.Helper()
	clock := newFakeClock(testStart)
	return NewPlaybookRegistry(hooks, nil, clock, zaptest.NewLogger(t), nil)
}

func playbookIncident(severity Severity) Incident {
	return Incident{
		ID:       uuid.New(),
		Title:    "high_cpu_usage - HIGH",
		Severity: severity,
		Status:   IncidentOpen,
	}
}

func TestExecuteWithoutPlaybookIsNoop(t *testing.T) {
	r := newTestPlaybooks(t, PlaybookHooks{})
	steps := r.Execute(context.Background(), playbookIncident(SeverityLow))
	assert.Nil(t, steps)
}

func TestExecuteRunsStepsWithNilHooks(t *testing.T) {
	r := newTestPlaybooks(t, PlaybookHooks{})
	r.Register(SeverityCritical, DefaultPlaybooks()[SeverityCritical])

	steps := r.Execute(context.Background(), playbookIncident(SeverityCritical))

	require.Len(t, steps, 3)
	assert.Equal(t, "notified oncall team", steps[0].Step)
	assert.Equal(t, "created ticket in jira", steps[1].Step)
	assert.Equal(t, "escalated to level 1", steps[2].Step)
	assert.Equal(t, "playbook:critical-response", steps[0].ExecutedBy)
	assert.Equal(t, testStart, steps[0].Timestamp)
}

func TestExecuteStepFailureDoesNotStopPlaybook(t *testing.T) {
	var tickets []string
	hooks := PlaybookHooks{
		NotifyTeam: func(ctx context.Context, inc Incident, team, onCall string) error {
			return errors.New("pager gateway unreachable")
		},
		CreateTicket: func(ctx context.Context, inc Incident, system string) error {
			tickets = append(tickets, system)
			return nil
		},
	}
	r := newTestPlaybooks(t, hooks)
	r.Register(SeverityHigh, DefaultPlaybooks()[SeverityHigh])

	steps := r.Execute(context.Background(), playbookIncident(SeverityHigh))

	require.Len(t, steps, 1, "failed notify step is dropped, ticket step still runs")
	assert.Equal(t, "created ticket in jira", steps[0].Step)
	assert.Equal(t, []string{"jira"}, tickets)
}

func TestExecuteStepDefaults(t *testing.T) {
	var gotTeam, gotSystem string
	hooks := PlaybookHooks{
		NotifyTeam: func(ctx context.Context, inc Incident, team, onCall string) error {
			gotTeam = team
			return nil
		},
		CreateTicket: func(ctx context.Context, inc Incident, system string) error {
			gotSystem = system
			return nil
		},
	}
	r := newTestPlaybooks(t, hooks)
	r.Register(SeverityMedium, Playbook{
		Name: "medium-response",
		Steps: []PlaybookStep{
			{Action: StepNotifyTeam},
			{Action: StepCreateTicket},
			{Action: StepEscalate},
		},
	})

	steps := r.Execute(context.Background(), playbookIncident(SeverityMedium))

	require.Len(t, steps, 3)
	assert.Equal(t, "oncall", gotTeam)
	assert.Equal(t, "jira", gotSystem)
	assert.Equal(t, "escalated to level 1", steps[2].Step)
}

func TestExecuteResolvesOnCallEngineer(t *testing.T) {
	clock := newFakeClock(testStart)
	logger := zaptest.NewLogger(t)
	oncall := NewOnCallRegistry(clock, logger)
	_, err := oncall.SetRotation("platform", []string{"dana"}, RotationDaily)
	require.NoError(t, err)

	r := NewPlaybookRegistry(PlaybookHooks{}, oncall, clock, logger, nil)
	r.Register(SeverityLow, Playbook{
		Name:  "low-response",
		Steps: []PlaybookStep{{Action: StepNotifyTeam, Team: "platform"}},
	})

	steps := r.Execute(context.Background(), playbookIncident(SeverityLow))
	require.Len(t, steps, 1)
	assert.Equal(t, "notified platform team (on call: dana)", steps[0].Step)
}

func TestExecuteSkipsEmptyScript(t *testing.T) {
	ran := false
	hooks := PlaybookHooks{
		RunScript: func(ctx context.Context, inc Incident, script string) error {
			ran = true
			return nil
		},
	}
	r := newTestPlaybooks(t, hooks)
	r.Register(SeverityLow, Playbook{
		Name: "low-response",
		Steps: []PlaybookStep{
			{Action: StepRunScript},
			{Action: StepRunScript, Script: "scale_out.sh"},
		},
	})

	steps := r.Execute(context.Background(), playbookIncident(SeverityLow))

	require.Len(t, steps, 1, "a step with no script records nothing")
	assert.Equal(t, "ran script scale_out.sh", steps[0].Step)
	assert.True(t, ran)
}

func TestExecuteUnknownActionIsSkipped(t *testing.T) {
	r := newTestPlaybooks(t, PlaybookHooks{})
	r.Register(SeverityLow, Playbook{
		Name: "low-response",
		Steps: []PlaybookStep{
			{Action: StepAction("page_ceo")},
			{Action: StepEscalate, Level: 2},
		},
	})

	steps := r.Execute(context.Background(), playbookIncident(SeverityLow))
	require.Len(t, steps, 1)
	assert.Equal(t, "escalated to level 2", steps[0].Step)
}

func TestPlaybookRegisterReplaces(t *testing.T) {
	r := newTestPlaybooks(t, PlaybookHooks{})
	r.Register(SeverityHigh, Playbook{Name: "v1"})
	r.Register(SeverityHigh, Playbook{Name: "v2"})

	pb, ok := r.Get(SeverityHigh)
	require.True(t, ok)
	assert.Equal(t, "v2", pb.Name)

	_, ok = r.Get(SeverityCritical)
	assert.False(t, ok)
}
