package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

// defaultPagerDutyURL is the PagerDuty Events API v2 endpoint.
const defaultPagerDutyURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyConfig configures the PagerDuty events handler.
type PagerDutyConfig struct {
	RoutingKey string        `mapstructure:"routing_key" yaml:"routing_key"`
	APIURL     string        `mapstructure:"api_url" yaml:"api_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PagerDutyHandler triggers PagerDuty events through the Events API
// v2. Alerts for the same rule share a dedup key so repeats attach to
// the open PagerDuty incident.
type PagerDutyHandler struct {
	cfg    PagerDutyConfig
	client *http.Client
	logger *zap.Logger
}

func NewPagerDutyHandler(cfg PagerDutyConfig, logger *zap.Logger) *PagerDutyHandler {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultPagerDutyURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &PagerDutyHandler{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type pagerDutyEvent struct {
	RoutingKey  string           `json:"routing_key"`
	EventAction string           `json:"event_action"`
	DedupKey    string           `json:"dedup_key"`
	Payload     pagerDutyPayload `json:"payload"`
}

type pagerDutyPayload struct {
	Summary       string                 `json:"summary"`
	Source        string                 `json:"source"`
	Severity      string                 `json:"severity"`
	Timestamp     string                 `json:"timestamp"`
	CustomDetails map[string]interface{} `json:"custom_details,omitempty"`
}

// Deliver implements alerting.ChannelHandler.
func (h *PagerDutyHandler) Deliver(ctx context.Context, alert alerting.Alert) error {
	event := pagerDutyEvent{
		RoutingKey:  h.cfg.RoutingKey,
		EventAction: "trigger",
		DedupKey:    alert.RuleName,
		Payload: pagerDutyPayload{
			Summary:   alert.Message,
			Source:    alert.Metric,
			Severity:  pagerDutySeverity(alert.Severity),
			Timestamp: alert.Timestamp.Format(time.RFC3339),
			CustomDetails: map[string]interface{}{
				"alert_id":         alert.ID.String(),
				"rule":             alert.RuleName,
				"current_value":    alert.CurrentValue,
				"threshold":        alert.Threshold,
				"escalation_level": alert.EscalationLevel,
			},
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal PagerDuty event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.APIURL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to create PagerDuty request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send PagerDuty event")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return errors.Errorf("PagerDuty returned status %d", resp.StatusCode)
	}

	h.logger.Debug("PagerDuty event triggered",
		zap.String("alert_id", alert.ID.String()),
		zap.String("dedup_key", alert.RuleName))
	return nil
}

// pagerDutySeverity maps alert severity onto the Events API scale.
func pagerDutySeverity(severity alerting.Severity) string {
	switch severity {
	case alerting.SeverityCritical:
		return "critical"
	case alerting.SeverityHigh:
		return "error"
	case alerting.SeverityMedium:
		return "warning"
	default:
		return "info"
	}
}
