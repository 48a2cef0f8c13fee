package alerting

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RotationSchedule is the advisory cadence of an on-call rotation.
type RotationSchedule string

const (
	RotationDaily   RotationSchedule = "daily"
	RotationWeekly  RotationSchedule = "weekly"
	RotationMonthly RotationSchedule = "monthly"
)

// OnCallRotation tracks who answers for a team. Advancement is
// explicit; the schedule records intent for the humans running it.
type OnCallRotation struct {
	ID        uuid.UUID        `json:"id"`
	Team      string           `json:"team"`
	Members   []string         `json:"members"`
	OnCall    string           `json:"on_call"`
	Schedule  RotationSchedule `json:"schedule"`
	StartedAt time.Time        `json:"started_at"`
}

// OnCallRegistry owns the per-team rotations.
type OnCallRegistry struct {
	mu        sync.RWMutex
	rotations map[string]*onCallState
	clock     Clock
	logger    *zap.Logger
}

type onCallState struct {
	rotation OnCallRotation
	current  int
}

func NewOnCallRegistry(clock Clock, logger *zap.Logger) *OnCallRegistry {
	return &OnCallRegistry{
		rotations: make(map[string]*onCallState),
		clock:     clock,
		logger:    logger,
	}
}

// SetRotation installs the rotation for a team, replacing any
// previous one. The first member starts on call.
func (r *OnCallRegistry) SetRotation(team string, members []string, schedule RotationSchedule) (OnCallRotation, error) {
	if len(members) == 0 {
		return OnCallRotation{}, errors.Errorf("rotation for team %q needs at least one member", team)
	}
	if schedule == "" {
		schedule = RotationWeekly
	}

	rotation := OnCallRotation{
		ID:        uuid.New(),
		Team:      team,
		Members:   slices.Clone(members),
		OnCall:    members[0],
		Schedule:  schedule,
		StartedAt: r.clock.Now(),
	}

	r.mu.Lock()
	_, replaced := r.rotations[team]
	r.rotations[team] = &onCallState{rotation: rotation}
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("on-call rotation replaced", zap.String("team", team))
	} else {
		r.logger.Info("on-call rotation created",
			zap.String("team", team),
			zap.Int("members", len(members)),
			zap.String("schedule", string(schedule)))
	}
	return rotation, nil
}

// CurrentOnCall returns the engineer currently on call for the team.
func (r *OnCallRegistry) CurrentOnCall(team string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.rotations[team]
	if !ok {
		return "", false
	}
	return state.rotation.OnCall, true
}

// Advance moves the team's rotation to the next member and returns
// the new on-call engineer.
func (r *OnCallRegistry) Advance(team string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rotations[team]
	if !ok {
		return "", false
	}
	state.current = (state.current + 1) % len(state.rotation.Members)
	state.rotation.OnCall = state.rotation.Members[state.current]
	r.logger.Info("on-call rotation advanced",
		zap.String("team", team),
		zap.String("on_call", state.rotation.OnCall))
	return state.rotation.OnCall, true
}

// Rotation returns a copy of the team's rotation.
func (r *OnCallRegistry) Rotation(team string) (OnCallRotation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.rotations[team]
	if !ok {
		return OnCallRotation{}, false
	}
	cp := state.rotation
	cp.Members = slices.Clone(state.rotation.Members)
	return cp, true
}
