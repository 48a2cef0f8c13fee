package alerting

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities; higher is worse.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as urgent as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Operator compares an observed metric value against a rule threshold.
type Operator string

const (
	OperatorGT Operator = "gt"
	OperatorLT Operator = "lt"
	OperatorEQ Operator = "eq"
)

// epsilon is the tolerance for eq comparisons on float metrics.
const epsilon = 1e-3

// Matches reports whether value satisfies the operator against
// threshold. Unknown operators never match.
func (o Operator) Matches(value, threshold float64) bool {
	switch o {
	case OperatorGT:
		return value > threshold
	case OperatorLT:
		return value < threshold
	case OperatorEQ:
		return math.Abs(value-threshold) < epsilon
	default:
		return false
	}
}

// Channel names a notification transport.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelSlack     Channel = "slack"
	ChannelWebhook   Channel = "webhook"
	ChannelPagerDuty Channel = "pagerduty"
)

// AlertRule describes one monitored condition. Name is the registry
// key. Duration is an informational grace period in seconds; Cooldown
// is the minimum gap in seconds between two new alerts for the rule.
// LastTriggered and TriggerCount are maintained by the engine and
// must not be set by callers.
type AlertRule struct {
	Name      string    `json:"name" yaml:"name" validate:"required"`
	Metric    string    `json:"metric" yaml:"metric" validate:"required"`
	Threshold float64   `json:"threshold" yaml:"threshold"`
	Operator  Operator  `json:"operator" yaml:"operator" validate:"required,oneof=gt lt eq"`
	Severity  Severity  `json:"severity" yaml:"severity" validate:"required,oneof=low medium high critical"`
	Channels  []Channel `json:"channels" yaml:"channels" validate:"dive,oneof=email sms slack webhook pagerduty"`
	Duration  int       `json:"duration" yaml:"duration" validate:"gte=0"`
	Cooldown  int       `json:"cooldown" yaml:"cooldown" validate:"gte=0"`

	LastTriggered time.Time `json:"last_triggered,omitempty" yaml:"-"`
	TriggerCount  int64     `json:"trigger_count" yaml:"-"`
}

// CooldownWindow returns the cooldown as a duration.
func (r *AlertRule) CooldownWindow() time.Duration {
	return time.Duration(r.Cooldown) * time.Second
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the rule definition before registration.
func (r *AlertRule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return errors.Wrapf(err, "invalid rule %q", r.Name)
	}
	return nil
}

// DefaultRules returns the stock rule set registered by the daemon
// when no rules file is configured.
func DefaultRules() []AlertRule {
	return []AlertRule{
		{
			Name:      "high_error_rate",
			Metric:    "error_rate",
			Threshold: 0.05,
			Operator:  OperatorGT,
			Severity:  SeverityHigh,
			Channels:  []Channel{ChannelEmail, ChannelSlack},
			Duration:  300,
			Cooldown:  600,
		},
		{
			Name:      "slow_response_time",
			Metric:    "p95_response_time_ms",
			Threshold: 200.0,
			Operator:  OperatorGT,
			Severity:  SeverityMedium,
			Channels:  []Channel{ChannelEmail},
			Duration:  300,
			Cooldown:  600,
		},
		{
			Name:      "high_memory_usage",
			Metric:    "memory_percent",
			Threshold: 90.0,
			Operator:  OperatorGT,
			Severity:  SeverityCritical,
			Channels:  []Channel{ChannelEmail, ChannelSMS, ChannelPagerDuty},
			Duration:  60,
			Cooldown:  300,
		},
		{
			Name:      "high_cpu_usage",
			Metric:    "cpu_percent",
			Threshold: 80.0,
			Operator:  OperatorGT,
			Severity:  SeverityHigh,
			Channels:  []Channel{ChannelEmail, ChannelSlack},
			Duration:  300,
			Cooldown:  600,
		},
	}
}
