package alerting

import "context"

// Sink receives durable copies of engine events. The engine treats
// archival as best effort: sink errors are logged and never block or
// fail the operation that produced the event. Implementations live in
// internal/archive and must be safe for concurrent use.
type Sink interface {
	RuleRegistered(ctx context.Context, rule AlertRule) error
	AlertFired(ctx context.Context, alert Alert) error
	AlertResolved(ctx context.Context, alert Alert) error
	IncidentOpened(ctx context.Context, incident Incident) error
	IncidentResolved(ctx context.Context, incident Incident) error
}
