package alerting

import (
	"fmt"

	"github.com/google/uuid"
)

// NotFoundError reports a lookup that referenced an unknown rule,
// alert or incident. Callers match it with errors.As.
type NotFoundError struct {
	Kind string // "rule", "alert" or "incident"
	Name string // rule name when Kind is "rule"
	ID   uuid.UUID
	// Suggestion carries the closest registered rule name when the
	// miss looks like a typo.
	Suggestion string
}

func (e *NotFoundError) Error() string {
	ref := e.Name
	if ref == "" {
		ref = e.ID.String()
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s %q not found (closest match %q)", e.Kind, ref, e.Suggestion)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, ref)
}

// DuplicateRuleError reports an attempt to register a rule under a
// name that is already taken.
type DuplicateRuleError struct {
	Name string
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("rule %q already registered", e.Name)
}

// InvalidTransitionError reports an incident status change that does
// not move forward through the lifecycle.
type InvalidTransitionError struct {
	From IncidentStatus
	To   IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid incident transition %s -> %s", e.From, e.To)
}

// ChannelDeliveryError reports a notification a handler failed to
// deliver. Dispatch logs these and keeps going; they never abort an
// evaluation.
type ChannelDeliveryError struct {
	Channel Channel
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("deliver on %s: %v", e.Channel, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error { return e.Err }
