package alerting

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the engine. Zero values fall back to the package
// defaults.
type Config struct {
	MaxHistory              int           `mapstructure:"max_history" yaml:"max_history"`
	MaxNotificationsPerHour int           `mapstructure:"max_notifications_per_hour" yaml:"max_notifications_per_hour"`
	MaxNotificationsPerDay  int           `mapstructure:"max_notifications_per_day" yaml:"max_notifications_per_day"`
	GroupWindow             time.Duration `mapstructure:"group_window" yaml:"group_window"`
	DispatchTimeout         time.Duration `mapstructure:"dispatch_timeout" yaml:"dispatch_timeout"`
	SweepInterval           time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type options struct {
	clock   Clock
	metrics *Metrics
	sink    Sink
	hooks   PlaybookHooks
}

// Option customizes engine construction.
type Option func(*options)

// WithClock substitutes the time source. Tests use a fake.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option { return func(o *options) { o.metrics = m } }

// WithSink attaches a durable archive for rules, alerts and incidents.
func WithSink(s Sink) Option { return func(o *options) { o.sink = s } }

// WithPlaybookHooks wires the integrations playbook steps call into.
func WithPlaybookHooks(h PlaybookHooks) Option { return func(o *options) { o.hooks = h } }

// Engine evaluates metric observations against registered rules and
// runs the full alert lifecycle: creation, notification with fatigue
// and grouping control, escalation and incident management. All
// methods are safe for concurrent use.
type Engine struct {
	clock   Clock
	logger  *zap.Logger
	metrics *Metrics
	sink    Sink

	rules      *RuleRegistry
	alerts     *AlertStore
	fatigue    *FatigueTracker
	groups     *GroupingIndex
	dispatcher *Dispatcher
	oncall     *OnCallRegistry
	playbooks  *PlaybookRegistry
	incidents  *IncidentManager
	sweeper    *Sweeper

	policyMu sync.RWMutex
	policies map[Severity]EscalationPolicy
}

func NewEngine(cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	o := options{clock: SystemClock()}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		clock:    o.clock,
		logger:   logger,
		metrics:  o.metrics,
		sink:     o.sink,
		rules:    NewRuleRegistry(logger),
		alerts:   NewAlertStore(cfg.MaxHistory),
		fatigue:  NewFatigueTracker(cfg.MaxNotificationsPerHour, cfg.MaxNotificationsPerDay),
		groups:   NewGroupingIndex(cfg.GroupWindow),
		policies: DefaultEscalationPolicies(),
	}
	e.dispatcher = NewDispatcher(cfg.DispatchTimeout, logger, o.metrics)
	e.oncall = NewOnCallRegistry(o.clock, logger)
	e.playbooks = NewPlaybookRegistry(o.hooks, e.oncall, o.clock, logger, o.metrics)
	e.incidents = NewIncidentManager(cfg.MaxHistory, o.clock, e.playbooks, logger, o.metrics)
	e.sweeper = newSweeper(e, cfg.SweepInterval, logger)
	return e
}

// Start launches the escalation sweeper.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.sweeper.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("alert engine started")
	return nil
}

// Stop halts the sweeper and waits for an in-flight sweep.
func (e *Engine) Stop() {
	e.sweeper.Stop()
	e.logger.Info("alert engine stopped")
}

// RegisterRule adds a new rule. A duplicate name is rejected.
func (e *Engine) RegisterRule(ctx context.Context, rule AlertRule) error {
	if err := e.rules.Register(rule); err != nil {
		return err
	}
	if e.sink != nil {
		e.archiveWrite("rule_registered", e.sink.RuleRegistered(ctx, rule))
	}
	return nil
}

// UpsertRule adds or replaces a rule, keeping trigger stats across
// replacements.
func (e *Engine) UpsertRule(ctx context.Context, rule AlertRule) error {
	if err := e.rules.Upsert(rule); err != nil {
		return err
	}
	if e.sink != nil {
		e.archiveWrite("rule_registered", e.sink.RuleRegistered(ctx, rule))
	}
	return nil
}

// GetRule returns a snapshot of the named rule.
func (e *Engine) GetRule(name string) (AlertRule, error) { return e.rules.Get(name) }

// ListRules returns a restartable, name-ordered walk over a snapshot
// of the registered rules.
func (e *Engine) ListRules() iter.Seq[AlertRule] { return e.rules.List() }

// RegisterChannelHandler installs the transport for a channel. Wrap
// the handler in NewAsyncHandler for fire-and-forget delivery.
func (e *Engine) RegisterChannelHandler(channel Channel, handler ChannelHandler) {
	e.dispatcher.Register(channel, handler)
}

// RegisterPlaybook installs the response playbook for a severity.
func (e *Engine) RegisterPlaybook(severity Severity, pb Playbook) {
	e.playbooks.Register(severity, pb)
}

// SetOnCallRotation installs the rotation the notify_team playbook
// step resolves against.
func (e *Engine) SetOnCallRotation(team string, members []string, schedule RotationSchedule) (OnCallRotation, error) {
	return e.oncall.SetRotation(team, members, schedule)
}

// AdvanceOnCall moves a team's rotation to the next member.
func (e *Engine) AdvanceOnCall(team string) (string, bool) { return e.oncall.Advance(team) }

// OnCallRotation returns a copy of a team's rotation.
func (e *Engine) OnCallRotation(team string) (OnCallRotation, bool) { return e.oncall.Rotation(team) }

// SetEscalationPolicy overrides the escalation policy for a severity.
func (e *Engine) SetEscalationPolicy(severity Severity, policy EscalationPolicy) {
	e.policyMu.Lock()
	e.policies[severity] = policy
	e.policyMu.Unlock()
	e.logger.Info("escalation policy updated",
		zap.String("severity", string(severity)),
		zap.Duration("escalate_after", policy.EscalateAfter))
}

func (e *Engine) escalationPolicy(severity Severity) (EscalationPolicy, bool) {
	e.policyMu.RLock()
	defer e.policyMu.RUnlock()
	policy, ok := e.policies[severity]
	return policy, ok
}

// Evaluate runs one metric observation through the named rule.
// It returns the new or refreshed alert when the condition holds, nil
// when nothing fired (condition clear, or a new firing suppressed by
// cooldown), and an error only for unknown rules. The cooldown gates
// new firings; an already active alert is refreshed in place without
// re-notifying.
func (e *Engine) Evaluate(ctx context.Context, ruleName string, value float64) (*Alert, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveEvaluation(time.Since(start)) }()

	entry, ok := e.rules.entry(ruleName)
	if !ok {
		err := e.rules.notFound(ruleName)
		e.logger.Warn("alert rule not found", zap.String("rule", ruleName), zap.Error(err))
		e.metrics.RecordEvaluation(ruleName, "not_found")
		return nil, err
	}

	entry.mu.Lock()
	rule := entry.rule
	now := e.clock.Now()
	triggered := rule.Operator.Matches(value, rule.Threshold)

	if _, active := e.alerts.ActiveByRule(ruleName); active {
		if !triggered {
			entry.mu.Unlock()
			e.metrics.RecordEvaluation(ruleName, "clear")
			return nil, nil
		}
		updated, refreshed := e.alerts.Refresh(ruleName, value, now)
		entry.mu.Unlock()
		if !refreshed {
			// The alert resolved between the check and the refresh;
			// the cooldown decides when the rule may fire again.
			e.metrics.RecordEvaluation(ruleName, "clear")
			return nil, nil
		}
		e.metrics.RecordEvaluation(ruleName, "refreshed")
		return &updated, nil
	}

	if !rule.LastTriggered.IsZero() && now.Sub(rule.LastTriggered) < rule.CooldownWindow() {
		entry.mu.Unlock()
		e.metrics.RecordEvaluation(ruleName, "cooldown")
		return nil, nil
	}

	if !triggered {
		entry.mu.Unlock()
		e.metrics.RecordEvaluation(ruleName, "clear")
		return nil, nil
	}

	alert := Alert{
		ID:           uuid.New(),
		RuleName:     rule.Name,
		Metric:       rule.Metric,
		Operator:     rule.Operator,
		Threshold:    rule.Threshold,
		Severity:     rule.Severity,
		CurrentValue: value,
		Message:      fmt.Sprintf("%s: %s = %v %s %v", rule.Name, rule.Metric, value, rule.Operator, rule.Threshold),
		Timestamp:    now,
		Metadata:     map[string]interface{}{"rule_name": rule.Name},
	}
	e.alerts.Add(alert)
	rule.LastTriggered = now
	rule.TriggerCount++
	entry.mu.Unlock()

	e.logger.Warn("alert triggered",
		zap.String("alert_id", alert.ID.String()),
		zap.String("rule", alert.RuleName),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("value", value),
		zap.Float64("threshold", alert.Threshold))
	e.metrics.RecordEvaluation(ruleName, "triggered")
	e.metrics.RecordAlertFired(ruleName, alert.Severity)

	alert = e.sendAlert(ctx, alert, false)
	if alert.Severity.AtLeast(SeverityHigh) {
		e.createOrLinkIncident(ctx, &alert)
	}
	e.publishGauges()
	if e.sink != nil {
		e.archiveWrite("alert_fired", e.sink.AlertFired(ctx, alert))
	}
	return &alert, nil
}

// sendAlert pushes one alert through fatigue control, grouping and
// the channel dispatcher. force bypasses fatigue and grouping, which
// is how escalation re-sends stay loud. The returned copy carries the
// delivery side effects.
func (e *Engine) sendAlert(ctx context.Context, alert Alert, force bool) Alert {
	now := e.clock.Now()

	if !force {
		allowed, stats := e.fatigue.Allow(alert.RuleName, now)
		if !allowed {
			reason := "daily_limit"
			if stats.AtHourlyLimit {
				reason = "hourly_limit"
			}
			e.logger.Warn("notification suppressed by fatigue limits",
				zap.String("alert_id", alert.ID.String()),
				zap.String("rule", alert.RuleName),
				zap.String("reason", reason),
				zap.Int("hourly", stats.HourlyNotifications),
				zap.Int("daily", stats.DailyNotifications))
			e.metrics.RecordSuppression(alert.RuleName, reason)
			return alert
		}
	}

	if grouped := e.groups.Observe(GroupKey(alert), now); grouped && !force {
		if tagged, ok := e.alerts.TagGrouped(alert.ID); ok {
			alert = tagged
		}
		e.logger.Info("alert grouped with recent burst",
			zap.String("alert_id", alert.ID.String()),
			zap.String("group", GroupKey(alert)))
	}

	delivered := e.dispatcher.Dispatch(ctx, alert, e.channelsFor(alert))
	if delivered > 0 {
		e.alerts.RecordNotifications(alert.ID, delivered)
		e.fatigue.Record(alert.RuleName, delivered, e.clock.Now())
		alert.NotificationCount += delivered
	}
	return alert
}

// channelsFor resolves the rule's channels plus, once escalated, the
// escalation policy's channels, deduplicated in order.
func (e *Engine) channelsFor(alert Alert) []Channel {
	var channels []Channel
	if entry, ok := e.rules.entry(alert.RuleName); ok {
		entry.mu.Lock()
		channels = slices.Clone(entry.rule.Channels)
		entry.mu.Unlock()
	}
	if alert.EscalationLevel > 0 {
		if policy, ok := e.escalationPolicy(alert.Severity); ok {
			channels = append(channels, policy.Channels...)
		}
	}
	return dedupeChannels(channels)
}

func dedupeChannels(channels []Channel) []Channel {
	seen := make(map[Channel]struct{}, len(channels))
	out := channels[:0]
	for _, ch := range channels {
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// CheckEscalations escalates every active alert that has stayed
// unacknowledged and unresolved past its severity deadline, re-sends
// it with force, and keeps the urgent ones attached to incidents. The
// sweeper calls this on a timer; tests call it directly. Returns the
// number of alerts escalated.
func (e *Engine) CheckEscalations(ctx context.Context) int {
	now := e.clock.Now()
	escalated := 0

	for _, snapshot := range e.alerts.Actives(nil) {
		policy, ok := e.escalationPolicy(snapshot.Severity)
		if !ok {
			continue
		}
		updated, due := e.alerts.EscalateIfDue(snapshot.ID, now, policy.EscalateAfter)
		if !due {
			continue
		}
		escalated++
		e.logger.Warn("alert escalated",
			zap.String("alert_id", updated.ID.String()),
			zap.String("rule", updated.RuleName),
			zap.String("severity", string(updated.Severity)),
			zap.Int("escalation_level", updated.EscalationLevel))
		e.metrics.RecordEscalation(updated.Severity)

		updated = e.sendAlert(ctx, updated, true)
		if updated.Severity.AtLeast(SeverityHigh) {
			e.createOrLinkIncident(ctx, &updated)
		}
	}
	return escalated
}

func (e *Engine) createOrLinkIncident(ctx context.Context, alert *Alert) {
	incident, created := e.incidents.CreateOrLink(ctx, *alert)
	if created {
		e.alerts.LinkIncident(alert.ID, incident.ID)
		if e.sink != nil {
			e.archiveWrite("incident_opened", e.sink.IncidentOpened(ctx, incident))
		}
	}
	alert.IncidentID = incident.ID
	e.metrics.SetActiveIncidents(e.incidents.ActiveCount())
}

// AcknowledgeAlert marks an active alert as acknowledged, which stops
// further escalation.
func (e *Engine) AcknowledgeAlert(id uuid.UUID, acknowledgedBy string) bool {
	alert, ok := e.alerts.Acknowledge(id, acknowledgedBy, e.clock.Now())
	if !ok {
		return false
	}
	e.logger.Info("alert acknowledged",
		zap.String("alert_id", alert.ID.String()),
		zap.String("rule", alert.RuleName),
		zap.String("acknowledged_by", acknowledgedBy))
	return true
}

// ResolveAlertByRule resolves the named rule's active alert.
func (e *Engine) ResolveAlertByRule(ctx context.Context, ruleName string) bool {
	alert, ok := e.alerts.ResolveByRule(ruleName, e.clock.Now())
	if !ok {
		return false
	}
	e.logger.Info("alert resolved",
		zap.String("alert_id", alert.ID.String()),
		zap.String("rule", alert.RuleName))
	e.publishGauges()
	if e.sink != nil {
		e.archiveWrite("alert_resolved", e.sink.AlertResolved(ctx, alert))
	}
	return true
}

// ResolveAlertByID resolves an active alert by id.
func (e *Engine) ResolveAlertByID(ctx context.Context, id uuid.UUID) bool {
	alert, ok := e.alerts.ResolveByID(id, e.clock.Now())
	if !ok {
		return false
	}
	e.logger.Info("alert resolved",
		zap.String("alert_id", alert.ID.String()),
		zap.String("rule", alert.RuleName))
	e.publishGauges()
	if e.sink != nil {
		e.archiveWrite("alert_resolved", e.sink.AlertResolved(ctx, alert))
	}
	return true
}

// GetActiveAlerts returns active alerts, optionally filtered by
// severity, newest first.
func (e *Engine) GetActiveAlerts(severity *Severity) []Alert { return e.alerts.Actives(severity) }

// GetAlertHistory returns up to limit recent alerts, optionally
// filtered by severity, newest first.
func (e *Engine) GetAlertHistory(limit int, severity *Severity) []Alert {
	return e.alerts.History(limit, severity)
}

// GetFatigueStats reports per-rule notification pressure.
func (e *Engine) GetFatigueStats() map[string]FatigueStats {
	return e.fatigue.Stats(e.clock.Now())
}

// CreateIncident opens an incident outside the alert pipeline.
func (e *Engine) CreateIncident(ctx context.Context, title, description string, severity Severity, source string, metadata map[string]interface{}) Incident {
	incident := e.incidents.Create(ctx, title, description, severity, source, metadata)
	if e.sink != nil {
		e.archiveWrite("incident_opened", e.sink.IncidentOpened(ctx, incident))
	}
	e.metrics.SetActiveIncidents(e.incidents.ActiveCount())
	return incident
}

// GetIncident returns an incident by id, active or archived.
func (e *Engine) GetIncident(id uuid.UUID) (Incident, bool) { return e.incidents.Get(id) }

// GetActiveIncidents returns incidents that still need work, newest
// first.
func (e *Engine) GetActiveIncidents(severity *Severity) []Incident {
	return e.incidents.Actives(severity)
}

// UpdateIncidentStatus moves an incident forward through its
// lifecycle. Reaching resolved also resolves every linked alert.
func (e *Engine) UpdateIncidentStatus(ctx context.Context, id uuid.UUID, status IncidentStatus, updatedBy string) (Incident, error) {
	incident, cascade, err := e.incidents.UpdateStatus(id, status, updatedBy)
	if err != nil {
		return Incident{}, err
	}
	e.resolveCascade(ctx, id, cascade)
	if status == IncidentResolved && e.sink != nil {
		e.archiveWrite("incident_resolved", e.sink.IncidentResolved(ctx, incident))
	}
	e.publishGauges()
	return incident, nil
}

// ResolveIncident resolves the incident and every alert linked to it.
func (e *Engine) ResolveIncident(ctx context.Context, id uuid.UUID, resolvedBy string) bool {
	incident, cascade, ok := e.incidents.Resolve(id, resolvedBy)
	if !ok {
		return false
	}
	e.resolveCascade(ctx, id, cascade)
	if e.sink != nil {
		e.archiveWrite("incident_resolved", e.sink.IncidentResolved(ctx, incident))
	}
	e.publishGauges()
	return true
}

func (e *Engine) resolveCascade(ctx context.Context, incidentID uuid.UUID, alertIDs []uuid.UUID) {
	now := e.clock.Now()
	for _, alertID := range alertIDs {
		alert, ok := e.alerts.ResolveByID(alertID, now)
		if !ok {
			continue
		}
		e.logger.Info("alert resolved with incident",
			zap.String("alert_id", alert.ID.String()),
			zap.String("rule", alert.RuleName),
			zap.String("incident_id", incidentID.String()))
		if e.sink != nil {
			e.archiveWrite("alert_resolved", e.sink.AlertResolved(ctx, alert))
		}
	}
}

// AssignIncident hands an incident to an engineer.
func (e *Engine) AssignIncident(id uuid.UUID, assignee string) bool {
	_, ok := e.incidents.Assign(id, assignee)
	return ok
}

// AddResponseStep appends a manual entry to an incident's response
// log.
func (e *Engine) AddResponseStep(id uuid.UUID, step, executedBy string) bool {
	return e.incidents.AddResponseStep(id, step, executedBy)
}

// EngineStats is a point-in-time summary of engine state.
type EngineStats struct {
	RegisteredRules  int              `json:"registered_rules"`
	ActiveAlerts     int              `json:"active_alerts"`
	AlertsBySeverity map[Severity]int `json:"alerts_by_severity"`
	HistorySize      int              `json:"history_size"`
	ActiveIncidents  int              `json:"active_incidents"`
}

// GetStats summarizes current engine state.
func (e *Engine) GetStats() EngineStats {
	return EngineStats{
		RegisteredRules:  e.rules.Len(),
		ActiveAlerts:     e.alerts.ActiveCount(),
		AlertsBySeverity: e.alerts.ActiveBySeverity(),
		HistorySize:      e.alerts.HistorySize(),
		ActiveIncidents:  e.incidents.ActiveCount(),
	}
}

func (e *Engine) publishGauges() {
	e.metrics.SetActiveAlerts(e.alerts.ActiveBySeverity())
	e.metrics.SetActiveIncidents(e.incidents.ActiveCount())
}

func (e *Engine) archiveWrite(op string, err error) {
	if err != nil {
		e.logger.Error("archive write failed", zap.String("op", op), zap.Error(err))
	}
}
