package alerting

import (
	"time"

	"github.com/google/uuid"
)

// Alert is one firing of a rule. Severity, Metric, Threshold and
// Operator are copied from the rule at creation so a later rule
// replacement never rewrites history. Timestamp is refreshed in place
// while the alert stays active and the condition keeps holding.
type Alert struct {
	ID           uuid.UUID `json:"id"`
	RuleName     string    `json:"rule_name"`
	Metric       string    `json:"metric"`
	Operator     Operator  `json:"operator"`
	Threshold    float64   `json:"threshold"`
	Severity     Severity  `json:"severity"`
	CurrentValue float64   `json:"current_value"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	EscalationLevel   int        `json:"escalation_level"`
	LastEscalatedAt   *time.Time `json:"last_escalated_at,omitempty"`
	NotificationCount int        `json:"notification_count"`
	IncidentID        uuid.UUID  `json:"incident_id,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Active reports whether the alert still needs attention.
func (a *Alert) Active() bool { return !a.Resolved }
