package alerting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics publishes engine activity to Prometheus. A nil *Metrics is
// valid and records nothing, so metrics stay optional in tests and
// embedded uses.
type Metrics struct {
	evaluations     *prometheus.CounterVec
	alertsFired     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	suppressions    *prometheus.CounterVec
	escalations     *prometheus.CounterVec
	incidents       *prometheus.CounterVec
	playbookSteps   *prometheus.CounterVec
	activeAlerts    *prometheus.GaugeVec
	activeIncidents prometheus.Gauge
	evaluateSeconds prometheus.Histogram
}

// NewMetrics registers the engine metrics with reg, or the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Rule evaluations by outcome",
		}, []string{"rule", "outcome"}),
		alertsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "engine",
			Name:      "alerts_fired_total",
			Help:      "New alerts created",
		}, []string{"rule", "severity"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result",
		}, []string{"channel", "result"}),
		suppressions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "notify",
			Name:      "suppressions_total",
			Help:      "Notifications suppressed by fatigue limits",
		}, []string{"rule", "reason"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "engine",
			Name:      "escalations_total",
			Help:      "Alert escalations",
		}, []string{"severity"}),
		incidents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "incident",
			Name:      "incidents_total",
			Help:      "Incidents opened by severity and source",
		}, []string{"severity", "source"}),
		playbookSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "incident",
			Name:      "playbook_steps_total",
			Help:      "Playbook steps executed by action and result",
		}, []string{"action", "result"}),
		activeAlerts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "engine",
			Name:      "active_alerts",
			Help:      "Currently active alerts by severity",
		}, []string{"severity"}),
		activeIncidents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "incident",
			Name:      "active_incidents",
			Help:      "Currently open incidents",
		}),
		evaluateSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "engine",
			Name:      "evaluate_duration_seconds",
			Help:      "Latency of rule evaluations",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) RecordEvaluation(rule, outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(rule, outcome).Inc()
}

func (m *Metrics) RecordAlertFired(rule string, severity Severity) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(rule, string(severity)).Inc()
}

func (m *Metrics) RecordNotification(channel Channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(channel), result).Inc()
}

func (m *Metrics) RecordSuppression(rule, reason string) {
	if m == nil {
		return
	}
	m.suppressions.WithLabelValues(rule, reason).Inc()
}

func (m *Metrics) RecordEscalation(severity Severity) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(string(severity)).Inc()
}

func (m *Metrics) RecordIncident(severity Severity, source string) {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues(string(severity), source).Inc()
}

func (m *Metrics) RecordPlaybookStep(action StepAction, result string) {
	if m == nil {
		return
	}
	m.playbookSteps.WithLabelValues(string(action), result).Inc()
}

// SetActiveAlerts publishes the active alert gauge for every severity,
// zeroing the ones with no alerts.
func (m *Metrics) SetActiveAlerts(counts map[Severity]int) {
	if m == nil {
		return
	}
	for _, severity := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		m.activeAlerts.WithLabelValues(string(severity)).Set(float64(counts[severity]))
	}
}

func (m *Metrics) SetActiveIncidents(n int) {
	if m == nil {
		return
	}
	m.activeIncidents.Set(float64(n))
}

func (m *Metrics) ObserveEvaluation(d time.Duration) {
	if m == nil {
		return
	}
	m.evaluateSeconds.Observe(d.Seconds())
}
