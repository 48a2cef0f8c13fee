package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

// SlackConfig configures a Slack incoming-webhook handler.
type SlackConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string        `mapstructure:"channel" yaml:"channel"`
	Username   string        `mapstructure:"username" yaml:"username"`
	IconEmoji  string        `mapstructure:"icon_emoji" yaml:"icon_emoji"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SlackHandler posts alerts as attachment messages, colored by
// severity.
type SlackHandler struct {
	cfg    SlackConfig
	client *http.Client
	logger *zap.Logger
}

func NewSlackHandler(cfg SlackConfig, logger *zap.Logger) *SlackHandler {
	if cfg.Username == "" {
		cfg.Username = "Sentinel"
	}
	if cfg.IconEmoji == "" {
		cfg.IconEmoji = ":rotating_light:"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SlackHandler{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Deliver implements alerting.ChannelHandler.
func (h *SlackHandler) Deliver(ctx context.Context, alert alerting.Alert) error {
	fields := []map[string]interface{}{
		{"title": "Metric", "value": alert.Metric, "short": true},
		{"title": "Severity", "value": string(alert.Severity), "short": true},
		{"title": "Value", "value": fmt.Sprintf("%v", alert.CurrentValue), "short": true},
		{"title": "Threshold", "value": fmt.Sprintf("%v %v", alert.Operator, alert.Threshold), "short": true},
	}
	if alert.EscalationLevel > 0 {
		fields = append(fields, map[string]interface{}{
			"title": "Escalation Level",
			"value": fmt.Sprintf("%d", alert.EscalationLevel),
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"channel":    h.cfg.Channel,
		"username":   h.cfg.Username,
		"icon_emoji": h.cfg.IconEmoji,
		"attachments": []map[string]interface{}{
			{
				"color":  severityColor(alert.Severity),
				"title":  alert.RuleName,
				"text":   alert.Message,
				"fields": fields,
				"footer": "Sentinel Alerting",
				"ts":     alert.Timestamp.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal Slack payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to create Slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send Slack webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("Slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func severityColor(severity alerting.Severity) string {
	switch severity {
	case alerting.SeverityLow:
		return "good"
	case alerting.SeverityMedium:
		return "warning"
	case alerting.SeverityHigh:
		return "danger"
	case alerting.SeverityCritical:
		return "#FF0000"
	default:
		return "#CCCCCC"
	}
}
