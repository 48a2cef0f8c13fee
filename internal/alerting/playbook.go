package alerting

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StepAction names one automated response action.
type StepAction string

const (
	StepNotifyTeam   StepAction = "notify_team"
	StepCreateTicket StepAction = "create_ticket"
	StepEscalate     StepAction = "escalate"
	StepRunScript    StepAction = "run_script"
)

// PlaybookStep is one action in a response playbook. Only the field
// matching the action is read: Team for notify_team, System for
// create_ticket, Level for escalate, Script for run_script.
type PlaybookStep struct {
	Action StepAction `json:"action" yaml:"action"`
	Team   string     `json:"team,omitempty" yaml:"team,omitempty"`
	System string     `json:"system,omitempty" yaml:"system,omitempty"`
	Level  int        `json:"level,omitempty" yaml:"level,omitempty"`
	Script string     `json:"script,omitempty" yaml:"script,omitempty"`
}

// Playbook is an ordered list of response steps run when an incident
// of a given severity opens.
type Playbook struct {
	Name  string         `json:"name" yaml:"name"`
	Steps []PlaybookStep `json:"steps" yaml:"steps"`
}

// PlaybookHooks are the integration points steps call into. Nil hooks
// fall back to logging, which is enough for local runs; production
// wires ticketing and paging here.
type PlaybookHooks struct {
	NotifyTeam   func(ctx context.Context, incident Incident, team, onCall string) error
	CreateTicket func(ctx context.Context, incident Incident, system string) error
	RunScript    func(ctx context.Context, incident Incident, script string) error
}

// PlaybookRegistry holds one playbook per severity and executes them
// when incidents open. A failing step is logged and skipped; the rest
// of the playbook still runs.
type PlaybookRegistry struct {
	mu        sync.RWMutex
	playbooks map[Severity]Playbook

	hooks   PlaybookHooks
	oncall  *OnCallRegistry
	clock   Clock
	logger  *zap.Logger
	metrics *Metrics
}

func NewPlaybookRegistry(hooks PlaybookHooks, oncall *OnCallRegistry, clock Clock, logger *zap.Logger, metrics *Metrics) *PlaybookRegistry {
	return &PlaybookRegistry{
		playbooks: make(map[Severity]Playbook),
		hooks:     hooks,
		oncall:    oncall,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Register installs the playbook for a severity, replacing any
// previous one.
func (r *PlaybookRegistry) Register(severity Severity, pb Playbook) {
	r.mu.Lock()
	r.playbooks[severity] = pb
	r.mu.Unlock()
	r.logger.Info("response playbook registered",
		zap.String("severity", string(severity)),
		zap.String("playbook", pb.Name),
		zap.Int("steps", len(pb.Steps)))
}

// Get returns the playbook registered for a severity.
func (r *PlaybookRegistry) Get(severity Severity) (Playbook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pb, ok := r.playbooks[severity]
	return pb, ok
}

// Execute runs the playbook registered for the incident's severity
// and returns the response steps that completed.
func (r *PlaybookRegistry) Execute(ctx context.Context, inc Incident) []ResponseStep {
	pb, ok := r.Get(inc.Severity)
	if !ok {
		return nil
	}

	executed := make([]ResponseStep, 0, len(pb.Steps))
	for _, step := range pb.Steps {
		desc, err := r.runStep(ctx, inc, step)
		if err != nil {
			r.logger.Error("playbook step failed",
				zap.String("incident_id", inc.ID.String()),
				zap.String("action", string(step.Action)),
				zap.Error(err))
			r.metrics.RecordPlaybookStep(step.Action, "failed")
			continue
		}
		if desc == "" {
			continue
		}
		r.metrics.RecordPlaybookStep(step.Action, "ok")
		executed = append(executed, ResponseStep{
			Step:       desc,
			ExecutedBy: "playbook:" + pb.Name,
			Timestamp:  r.clock.Now(),
		})
	}
	return executed
}

func (r *PlaybookRegistry) runStep(ctx context.Context, inc Incident, step PlaybookStep) (string, error) {
	switch step.Action {
	case StepNotifyTeam:
		team := step.Team
		if team == "" {
			team = "oncall"
		}
		onCall := ""
		if r.oncall != nil {
			if person, ok := r.oncall.CurrentOnCall(team); ok {
				onCall = person
			}
		}
		if r.hooks.NotifyTeam != nil {
			if err := r.hooks.NotifyTeam(ctx, inc, team, onCall); err != nil {
				return "", err
			}
		} else {
			r.logger.Info("notifying team about incident",
				zap.String("incident_id", inc.ID.String()),
				zap.String("team", team),
				zap.String("on_call", onCall))
		}
		if onCall != "" {
			return fmt.Sprintf("notified %s team (on call: %s)", team, onCall), nil
		}
		return fmt.Sprintf("notified %s team", team), nil

	case StepCreateTicket:
		system := step.System
		if system == "" {
			system = "jira"
		}
		if r.hooks.CreateTicket != nil {
			if err := r.hooks.CreateTicket(ctx, inc, system); err != nil {
				return "", err
			}
		} else {
			r.logger.Info("creating ticket for incident",
				zap.String("incident_id", inc.ID.String()),
				zap.String("system", system))
		}
		return fmt.Sprintf("created ticket in %s", system), nil

	case StepEscalate:
		level := step.Level
		if level <= 0 {
			level = 1
		}
		r.logger.Warn("escalating incident",
			zap.String("incident_id", inc.ID.String()),
			zap.Int("level", level))
		return fmt.Sprintf("escalated to level %d", level), nil

	case StepRunScript:
		if step.Script == "" {
			return "", nil
		}
		if r.hooks.RunScript != nil {
			if err := r.hooks.RunScript(ctx, inc, step.Script); err != nil {
				return "", err
			}
		} else {
			r.logger.Info("running automation script for incident",
				zap.String("incident_id", inc.ID.String()),
				zap.String("script", step.Script))
		}
		return fmt.Sprintf("ran script %s", step.Script), nil

	default:
		return "", errors.Errorf("unknown playbook action %q", step.Action)
	}
}

// DefaultPlaybooks returns the stock response playbooks the daemon
// registers when no playbook file is configured.
func DefaultPlaybooks() map[Severity]Playbook {
	return map[Severity]Playbook{
		SeverityCritical: {
			Name: "critical-response",
			Steps: []PlaybookStep{
				{Action: StepNotifyTeam, Team: "oncall"},
				{Action: StepCreateTicket, System: "jira"},
				{Action: StepEscalate, Level: 1},
			},
		},
		SeverityHigh: {
			Name: "high-response",
			Steps: []PlaybookStep{
				{Action: StepNotifyTeam, Team: "oncall"},
				{Action: StepCreateTicket, System: "jira"},
			},
		},
	}
}
