package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

// EmailConfig configures the SMTP alert handler.
type EmailConfig struct {
	Host          string   `mapstructure:"host" yaml:"host"`
	Port          int      `mapstructure:"port" yaml:"port"`
	Username      string   `mapstructure:"username" yaml:"username"`
	Password      string   `mapstructure:"password" yaml:"password"`
	From          string   `mapstructure:"from" yaml:"from"`
	To            []string `mapstructure:"to" yaml:"to"`
	SubjectPrefix string   `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// EmailHandler delivers alerts over SMTP as plain text mail.
type EmailHandler struct {
	cfg    EmailConfig
	logger *zap.Logger

	// send is swapped out in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailHandler(cfg EmailConfig, logger *zap.Logger) *EmailHandler {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "[Sentinel]"
	}
	return &EmailHandler{
		cfg:    cfg,
		logger: logger,
		send:   smtp.SendMail,
	}
}

// Deliver implements alerting.ChannelHandler. The smtp dial does not
// take a context; the dispatcher's timeout still bounds the call
// because delivery runs inside its deadline.
func (h *EmailHandler) Deliver(_ context.Context, alert alerting.Alert) error {
	if len(h.cfg.To) == 0 {
		return errors.New("email handler has no recipients")
	}

	var auth smtp.Auth
	if h.cfg.Username != "" {
		auth = smtp.PlainAuth("", h.cfg.Username, h.cfg.Password, h.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", h.cfg.Host, h.cfg.Port)
	msg := h.buildMessage(alert)
	if err := h.send(addr, auth, h.cfg.From, h.cfg.To, msg); err != nil {
		return errors.Wrap(err, "failed to send alert email")
	}

	h.logger.Debug("alert email sent",
		zap.String("alert_id", alert.ID.String()),
		zap.Strings("to", h.cfg.To))
	return nil
}

func (h *EmailHandler) buildMessage(alert alerting.Alert) []byte {
	subject := fmt.Sprintf("%s %s: %s", h.cfg.SubjectPrefix, strings.ToUpper(string(alert.Severity)), alert.RuleName)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", h.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(h.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", alert.Timestamp.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "%s\r\n\r\n", alert.Message)
	fmt.Fprintf(&b, "Rule:      %s\r\n", alert.RuleName)
	fmt.Fprintf(&b, "Metric:    %s\r\n", alert.Metric)
	fmt.Fprintf(&b, "Value:     %v\r\n", alert.CurrentValue)
	fmt.Fprintf(&b, "Threshold: %v %v\r\n", alert.Operator, alert.Threshold)
	fmt.Fprintf(&b, "Severity:  %s\r\n", alert.Severity)
	fmt.Fprintf(&b, "Fired at:  %s\r\n", alert.Timestamp.Format(time.RFC3339))
	if alert.EscalationLevel > 0 {
		fmt.Fprintf(&b, "Escalation level: %d\r\n", alert.EscalationLevel)
	}
	return []byte(b.String())
}
