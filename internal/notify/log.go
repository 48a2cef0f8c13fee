package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

// LogHandler writes alerts to the log instead of an external
// transport. It stands in for channels with no configured integration,
// such as sms in local runs.
type LogHandler struct {
	channel string
	logger  *zap.Logger
}

func NewLogHandler(channel string, logger *zap.Logger) *LogHandler {
	return &LogHandler{channel: channel, logger: logger}
}

// Deliver implements alerting.ChannelHandler.
func (h *LogHandler) Deliver(_ context.Context, alert alerting.Alert) error {
	h.logger.Info("alert notification",
		zap.String("channel", h.channel),
		zap.String("alert_id", alert.ID.String()),
		zap.String("rule", alert.RuleName),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("value", alert.CurrentValue),
		zap.String("message", alert.Message))
	return nil
}
