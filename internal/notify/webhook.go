// Package notify implements the delivery transports registered as
// channel handlers on the alert engine: webhook, Slack, email,
// PagerDuty, Kafka and a plain log fallback.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

// alertPayload is the JSON body shipped to webhook receivers and the
// Kafka alert topic.
type alertPayload struct {
	ID                string      `json:"id"`
	Rule              string      `json:"rule"`
	Metric            string      `json:"metric"`
	Operator          string      `json:"operator"`
	Threshold         float64     `json:"threshold"`
	CurrentValue      float64     `json:"current_value"`
	Severity          string      `json:"severity"`
	Message           string      `json:"message"`
	Timestamp         time.Time   `json:"timestamp"`
	EscalationLevel   int         `json:"escalation_level,omitempty"`
	NotificationCount int         `json:"notification_count,omitempty"`
	IncidentID        string      `json:"incident_id,omitempty"`
	Metadata          interface{} `json:"metadata,omitempty"`
}

func payloadFor(alert alerting.Alert) alertPayload {
	p := alertPayload{
		ID:                alert.ID.String(),
		Rule:              alert.RuleName,
		Metric:            alert.Metric,
		Operator:          string(alert.Operator),
		Threshold:         alert.Threshold,
		CurrentValue:      alert.CurrentValue,
		Severity:          string(alert.Severity),
		Message:           alert.Message,
		Timestamp:         alert.Timestamp,
		EscalationLevel:   alert.EscalationLevel,
		NotificationCount: alert.NotificationCount,
		Metadata:          alert.Metadata,
	}
	if alert.IncidentID != uuid.Nil {
		p.IncidentID = alert.IncidentID.String()
	}
	return p
}

// WebhookConfig configures a webhook handler.
type WebhookConfig struct {
	URL        string            `mapstructure:"url" yaml:"url"`
	Method     string            `mapstructure:"method" yaml:"method"`
	Headers    map[string]string `mapstructure:"headers" yaml:"headers"`
	Timeout    time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	RetryCount int               `mapstructure:"retry_count" yaml:"retry_count"`
}

// WebhookHandler delivers alerts as JSON POSTs with linear backoff
// retries.
type WebhookHandler struct {
	cfg    WebhookConfig
	client *http.Client
	logger *zap.Logger
}

func NewWebhookHandler(cfg WebhookConfig, logger *zap.Logger) *WebhookHandler {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	return &WebhookHandler{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Deliver implements alerting.ChannelHandler.
func (h *WebhookHandler) Deliver(ctx context.Context, alert alerting.Alert) error {
	data, err := json.Marshal(payloadFor(alert))
	if err != nil {
		return errors.Wrap(err, "failed to marshal webhook payload")
	}
	return h.sendWithRetry(ctx, data)
}

func (h *WebhookHandler) sendWithRetry(ctx context.Context, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= h.cfg.RetryCount; attempt++ {
		if err := h.send(ctx, data); err != nil {
			lastErr = err
			h.logger.Warn("webhook send failed",
				zap.String("url", h.cfg.URL),
				zap.Int("attempt", attempt+1),
				zap.Error(err))

			if attempt < h.cfg.RetryCount {
				select {
				case <-time.After(time.Duration(attempt+1) * time.Second):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		} else {
			return nil
		}
	}

	return errors.Wrap(lastErr, "webhook send failed after retries")
}

func (h *WebhookHandler) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, h.cfg.Method, h.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to create webhook request")
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range h.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send webhook request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
