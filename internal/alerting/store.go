package alerting

import (
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxHistory bounds the alert history ring.
const DefaultMaxHistory = 10000

// AlertStore owns every alert the engine creates: at most one active
// alert per rule, an id index over the actives, and a bounded history
// of all firings. History entries share the authoritative record, so
// acknowledging or resolving an alert is visible in the history view.
// All mutation happens here under one mutex; views return copies.
type AlertStore struct {
	mu         sync.RWMutex
	active     map[string]*Alert
	byID       map[uuid.UUID]*Alert
	history    []*Alert
	maxHistory int
}

func NewAlertStore(maxHistory int) *AlertStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &AlertStore{
		active:     make(map[string]*Alert),
		byID:       make(map[uuid.UUID]*Alert),
		history:    make([]*Alert, 0, 128),
		maxHistory: maxHistory,
	}
}

// Add records a newly created alert as the active alert for its rule
// and appends it to history.
func (s *AlertStore) Add(alert Alert) {
	a := alert
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[a.RuleName] = &a
	s.byID[a.ID] = &a
	s.history = append(s.history, &a)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

// ActiveByRule returns a copy of the rule's active alert.
func (s *AlertStore) ActiveByRule(ruleName string) (Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[ruleName]
	if !ok {
		return Alert{}, false
	}
	return copyAlert(a), true
}

// ActiveByID returns a copy of an active alert by id.
func (s *AlertStore) ActiveByID(id uuid.UUID) (Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return Alert{}, false
	}
	return copyAlert(a), true
}

// Refresh updates the rule's active alert in place after another
// triggering evaluation: new observed value, new timestamp, nothing
// else.
func (s *AlertStore) Refresh(ruleName string, value float64, now time.Time) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[ruleName]
	if !ok {
		return Alert{}, false
	}
	a.CurrentValue = value
	a.Timestamp = now
	return copyAlert(a), true
}

// Acknowledge marks an active alert as acknowledged by actor.
func (s *AlertStore) Acknowledge(id uuid.UUID, actor string, now time.Time) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Alert{}, false
	}
	a.Acknowledged = true
	a.AcknowledgedBy = actor
	at := now
	a.AcknowledgedAt = &at
	return copyAlert(a), true
}

// ResolveByRule resolves the rule's active alert and removes it from
// the active set. The history record keeps the resolved state.
func (s *AlertStore) ResolveByRule(ruleName string, now time.Time) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[ruleName]
	if !ok {
		return Alert{}, false
	}
	s.resolveLocked(a, now)
	return copyAlert(a), true
}

// ResolveByID resolves an active alert by id.
func (s *AlertStore) ResolveByID(id uuid.UUID, now time.Time) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Alert{}, false
	}
	s.resolveLocked(a, now)
	return copyAlert(a), true
}

func (s *AlertStore) resolveLocked(a *Alert, now time.Time) {
	a.Resolved = true
	at := now
	a.ResolvedAt = &at
	delete(s.active, a.RuleName)
	delete(s.byID, a.ID)
}

// EscalateIfDue bumps the escalation level of an active alert when it
// has stayed unacknowledged for at least after since its last trigger
// or last escalation. The check and the bump are atomic so concurrent
// sweeps cannot double-escalate.
func (s *AlertStore) EscalateIfDue(id uuid.UUID, now time.Time, after time.Duration) (Alert, bool) {
	if after <= 0 {
		return Alert{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok || a.Acknowledged || a.Resolved {
		return Alert{}, false
	}
	since := a.Timestamp
	if a.LastEscalatedAt != nil {
		since = *a.LastEscalatedAt
	}
	if now.Sub(since) < after {
		return Alert{}, false
	}
	a.EscalationLevel++
	at := now
	a.LastEscalatedAt = &at
	return copyAlert(a), true
}

// TagGrouped prefixes the alert message once so receivers can collapse
// the burst it belongs to.
func (s *AlertStore) TagGrouped(id uuid.UUID) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Alert{}, false
	}
	if !strings.HasPrefix(a.Message, groupedPrefix) {
		a.Message = groupedPrefix + a.Message
	}
	return copyAlert(a), true
}

// RecordNotifications adds n delivered notifications to the alert's
// count.
func (s *AlertStore) RecordNotifications(id uuid.UUID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byID[id]; ok {
		a.NotificationCount += n
	}
}

// LinkIncident attaches an incident id to an active alert.
func (s *AlertStore) LinkIncident(id, incidentID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return false
	}
	a.IncidentID = incidentID
	return true
}

// Actives returns copies of the active alerts, optionally filtered by
// severity, newest first.
func (s *AlertStore) Actives(severity *Severity) []Alert {
	s.mu.RLock()
	out := make([]Alert, 0, len(s.active))
	for _, a := range s.active {
		if severity != nil && a.Severity != *severity {
			continue
		}
		out = append(out, copyAlert(a))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// History returns up to limit of the most recent alerts, optionally
// filtered by severity, newest first. limit <= 0 means no limit.
func (s *AlertStore) History(limit int, severity *Severity) []Alert {
	s.mu.RLock()
	recent := s.history
	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	out := make([]Alert, 0, len(recent))
	for _, a := range recent {
		if severity != nil && a.Severity != *severity {
			continue
		}
		out = append(out, copyAlert(a))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// ActiveCount reports the number of active alerts.
func (s *AlertStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// ActiveBySeverity reports active alert counts keyed by severity.
func (s *AlertStore) ActiveBySeverity() map[Severity]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Severity]int, 4)
	for _, a := range s.active {
		out[a.Severity]++
	}
	return out
}

// HistorySize reports the number of retained history entries.
func (s *AlertStore) HistorySize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

func copyAlert(a *Alert) Alert {
	cp := *a
	cp.Metadata = maps.Clone(a.Metadata)
	return cp
}
