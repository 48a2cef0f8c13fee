package alerting

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IncidentStatus tracks an incident through its lifecycle.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentMitigating    IncidentStatus = "mitigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
)

// statusOrder drives forward-only transition checks. Skipping ahead
// is allowed, moving backward is not.
var statusOrder = map[IncidentStatus]int{
	IncidentOpen:          0,
	IncidentInvestigating: 1,
	IncidentMitigating:    2,
	IncidentResolved:      3,
	IncidentClosed:        4,
}

// IncidentPriority ranks response urgency, P1 highest.
type IncidentPriority string

const (
	PriorityP1 IncidentPriority = "P1"
	PriorityP2 IncidentPriority = "P2"
	PriorityP3 IncidentPriority = "P3"
	PriorityP4 IncidentPriority = "P4"
	PriorityP5 IncidentPriority = "P5"
)

// PriorityForSeverity maps alert severity to response priority.
func PriorityForSeverity(s Severity) IncidentPriority {
	switch s {
	case SeverityCritical:
		return PriorityP1
	case SeverityHigh:
		return PriorityP2
	case SeverityMedium:
		return PriorityP3
	default:
		return PriorityP4
	}
}

// ResponseStep is one action taken while responding to an incident.
type ResponseStep struct {
	Step       string    `json:"step"`
	ExecutedBy string    `json:"executed_by,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Incident groups the alerts of one ongoing problem and tracks the
// response. RelatedAlerts holds alert ids, never alert records, so
// alert state stays owned by the alert store.
type Incident struct {
	ID            uuid.UUID              `json:"id"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	Severity      Severity               `json:"severity"`
	Status        IncidentStatus         `json:"status"`
	Priority      IncidentPriority       `json:"priority"`
	Source        string                 `json:"source"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	ResolvedAt    *time.Time             `json:"resolved_at,omitempty"`
	AssignedTo    string                 `json:"assigned_to,omitempty"`
	RelatedAlerts []uuid.UUID            `json:"related_alerts"`
	ResponseSteps []ResponseStep         `json:"response_steps"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Open reports whether the incident still needs work.
func (i *Incident) Open() bool {
	return i.Status != IncidentResolved && i.Status != IncidentClosed
}

// IncidentManager owns all incidents: the active set plus a bounded
// history of resolved and closed ones. Mutation happens under one
// mutex; views return copies. Alert resolution cascades are returned
// as id lists for the engine to apply through the alert store.
type IncidentManager struct {
	mu         sync.RWMutex
	active     map[uuid.UUID]*Incident
	history    []*Incident
	maxHistory int

	clock     Clock
	logger    *zap.Logger
	metrics   *Metrics
	playbooks *PlaybookRegistry
}

func NewIncidentManager(maxHistory int, clock Clock, playbooks *PlaybookRegistry, logger *zap.Logger, metrics *Metrics) *IncidentManager {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &IncidentManager{
		active:     make(map[uuid.UUID]*Incident),
		history:    make([]*Incident, 0, 64),
		maxHistory: maxHistory,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		playbooks:  playbooks,
	}
}

// CreateOrLink attaches the alert to its open incident, or opens a new
// incident seeded with the alert. The second return reports whether a
// new incident was created.
func (m *IncidentManager) CreateOrLink(ctx context.Context, alert Alert) (Incident, bool) {
	now := m.clock.Now()

	m.mu.Lock()
	if alert.IncidentID != uuid.Nil {
		if inc, ok := m.active[alert.IncidentID]; ok && inc.Open() {
			if !slices.Contains(inc.RelatedAlerts, alert.ID) {
				inc.RelatedAlerts = append(inc.RelatedAlerts, alert.ID)
			}
			inc.UpdatedAt = now
			cp := copyIncident(inc)
			m.mu.Unlock()
			return cp, false
		}
	}

	inc := &Incident{
		ID:            uuid.New(),
		Title:         fmt.Sprintf("%s - %s", alert.RuleName, strings.ToUpper(string(alert.Severity))),
		Description:   alert.Message,
		Severity:      alert.Severity,
		Status:        IncidentOpen,
		Priority:      PriorityForSeverity(alert.Severity),
		Source:        "alerting",
		CreatedAt:     now,
		UpdatedAt:     now,
		RelatedAlerts: []uuid.UUID{alert.ID},
		ResponseSteps: []ResponseStep{},
		Metadata: map[string]interface{}{
			"rule_name":     alert.RuleName,
			"metric":        alert.Metric,
			"current_value": alert.CurrentValue,
			"threshold":     alert.Threshold,
		},
	}
	m.active[inc.ID] = inc
	cp := copyIncident(inc)
	m.mu.Unlock()

	m.logger.Warn("incident created",
		zap.String("incident_id", inc.ID.String()),
		zap.String("title", inc.Title),
		zap.String("severity", string(inc.Severity)),
		zap.String("priority", string(inc.Priority)))
	m.metrics.RecordIncident(inc.Severity, inc.Source)

	m.runPlaybook(ctx, cp)
	return cp, true
}

// Create opens an incident directly, outside the alert pipeline.
func (m *IncidentManager) Create(ctx context.Context, title, description string, severity Severity, source string, metadata map[string]interface{}) Incident {
	now := m.clock.Now()
	if source == "" {
		source = "manual"
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	inc := &Incident{
		ID:            uuid.New(),
		Title:         title,
		Description:   description,
		Severity:      severity,
		Status:        IncidentOpen,
		Priority:      PriorityForSeverity(severity),
		Source:        source,
		CreatedAt:     now,
		UpdatedAt:     now,
		RelatedAlerts: []uuid.UUID{},
		ResponseSteps: []ResponseStep{},
		Metadata:      metadata,
	}

	m.mu.Lock()
	m.active[inc.ID] = inc
	cp := copyIncident(inc)
	m.mu.Unlock()

	m.logger.Warn("incident created",
		zap.String("incident_id", inc.ID.String()),
		zap.String("title", inc.Title),
		zap.String("severity", string(inc.Severity)),
		zap.String("priority", string(inc.Priority)))
	m.metrics.RecordIncident(inc.Severity, inc.Source)

	m.runPlaybook(ctx, cp)
	return cp
}

// UpdateStatus moves an incident forward through its lifecycle.
// Moving to resolved returns the related alert ids so the caller can
// cascade resolution; moving to closed archives the incident.
func (m *IncidentManager) UpdateStatus(id uuid.UUID, status IncidentStatus, updatedBy string) (Incident, []uuid.UUID, error) {
	now := m.clock.Now()

	m.mu.Lock()
	inc, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return Incident{}, nil, &NotFoundError{Kind: "incident", ID: id}
	}

	newOrder, known := statusOrder[status]
	if !known || newOrder <= statusOrder[inc.Status] {
		err := &InvalidTransitionError{From: inc.Status, To: status}
		m.mu.Unlock()
		return Incident{}, nil, err
	}

	inc.Status = status
	inc.UpdatedAt = now
	if updatedBy != "" {
		inc.Metadata["updated_by"] = updatedBy
	}

	var cascade []uuid.UUID
	if status == IncidentResolved {
		at := now
		inc.ResolvedAt = &at
		cascade = slices.Clone(inc.RelatedAlerts)
	}
	if status == IncidentClosed {
		m.archiveLocked(inc)
	}
	cp := copyIncident(inc)
	m.mu.Unlock()

	m.logger.Info("incident status updated",
		zap.String("incident_id", id.String()),
		zap.String("status", string(status)),
		zap.String("updated_by", updatedBy))
	return cp, cascade, nil
}

// Resolve marks the incident resolved, archives it and returns the
// related alert ids for the resolution cascade.
func (m *IncidentManager) Resolve(id uuid.UUID, resolvedBy string) (Incident, []uuid.UUID, bool) {
	now := m.clock.Now()

	m.mu.Lock()
	inc, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return Incident{}, nil, false
	}

	inc.Status = IncidentResolved
	at := now
	inc.ResolvedAt = &at
	inc.UpdatedAt = now
	if resolvedBy != "" {
		inc.Metadata["resolved_by"] = resolvedBy
	}
	cascade := slices.Clone(inc.RelatedAlerts)
	m.archiveLocked(inc)
	cp := copyIncident(inc)
	m.mu.Unlock()

	m.logger.Info("incident resolved",
		zap.String("incident_id", id.String()),
		zap.String("resolved_by", resolvedBy))
	return cp, cascade, true
}

// Assign hands the incident to an engineer.
func (m *IncidentManager) Assign(id uuid.UUID, assignee string) (Incident, bool) {
	now := m.clock.Now()

	m.mu.Lock()
	inc, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return Incident{}, false
	}
	inc.AssignedTo = assignee
	inc.UpdatedAt = now
	cp := copyIncident(inc)
	m.mu.Unlock()

	m.logger.Info("incident assigned",
		zap.String("incident_id", id.String()),
		zap.String("assignee", assignee))
	return cp, true
}

// AddResponseStep appends a manual response log entry.
func (m *IncidentManager) AddResponseStep(id uuid.UUID, step, executedBy string) bool {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.active[id]
	if !ok {
		return false
	}
	inc.ResponseSteps = append(inc.ResponseSteps, ResponseStep{
		Step:       step,
		ExecutedBy: executedBy,
		Timestamp:  now,
	})
	inc.UpdatedAt = now
	return true
}

// Get returns the incident by id, searching actives first, then
// history.
func (m *IncidentManager) Get(id uuid.UUID) (Incident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if inc, ok := m.active[id]; ok {
		return copyIncident(inc), true
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			return copyIncident(m.history[i]), true
		}
	}
	return Incident{}, false
}

// Actives returns incidents that still need work, optionally filtered
// by severity, newest first.
func (m *IncidentManager) Actives(severity *Severity) []Incident {
	m.mu.RLock()
	out := make([]Incident, 0, len(m.active))
	for _, inc := range m.active {
		if !inc.Open() {
			continue
		}
		if severity != nil && inc.Severity != *severity {
			continue
		}
		out = append(out, copyIncident(inc))
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ActiveCount reports how many incidents still need work.
func (m *IncidentManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, inc := range m.active {
		if inc.Open() {
			n++
		}
	}
	return n
}

// archiveLocked moves the incident out of the active set.
func (m *IncidentManager) archiveLocked(inc *Incident) {
	delete(m.active, inc.ID)
	m.history = append(m.history, inc)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

// runPlaybook executes the registered playbook for the incident's
// severity and records the steps it took.
func (m *IncidentManager) runPlaybook(ctx context.Context, inc Incident) {
	if m.playbooks == nil {
		return
	}
	steps := m.playbooks.Execute(ctx, inc)
	if len(steps) == 0 {
		return
	}
	m.mu.Lock()
	if live, ok := m.active[inc.ID]; ok {
		live.ResponseSteps = append(live.ResponseSteps, steps...)
		live.UpdatedAt = m.clock.Now()
	}
	m.mu.Unlock()
}

func copyIncident(inc *Incident) Incident {
	cp := *inc
	cp.RelatedAlerts = slices.Clone(inc.RelatedAlerts)
	cp.ResponseSteps = slices.Clone(inc.ResponseSteps)
	cp.Metadata = maps.Clone(inc.Metadata)
	return cp
}
