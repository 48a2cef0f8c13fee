package notify

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEmailDeliver(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotAuth smtp.Auth
	var gotMsg []byte

	h := NewEmailHandler(EmailConfig{
		Host:     "smtp.example.com",
		Username: "alerts@example.com",
		Password: "secret",
		From:     "alerts@example.com",
		To:       []string{"oncall@example.com", "sre@example.com"},
	}, zaptest.NewLogger(t))
	h.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	require.NoError(t, h.Deliver(context.Background(), sampleAlert()))

	assert.Equal(t, "smtp.example.com:587", gotAddr, "port defaults to 587")
	assert.NotNil(t, gotAuth, "credentials enable plain auth")
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"oncall@example.com", "sre@example.com"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: [Sentinel] HIGH: high_cpu_usage")
	assert.Contains(t, msg, "To: oncall@example.com, sre@example.com")
	assert.Contains(t, msg, "high_cpu_usage: cpu_percent = 92.5 gt 80")
	assert.Contains(t, msg, "Threshold: gt 80")
	assert.NotContains(t, msg, "Escalation level", "unescalated alerts skip the line")
}

func TestEmailDeliverWithoutAuth(t *testing.T) {
	var gotAuth smtp.Auth = smtp.PlainAuth("", "x", "x", "x")

	h := NewEmailHandler(EmailConfig{
		Host: "localhost",
		Port: 1025,
		From: "alerts@example.com",
		To:   []string{"dev@example.com"},
	}, zaptest.NewLogger(t))
	h.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAuth = a
		return nil
	}

	require.NoError(t, h.Deliver(context.Background(), sampleAlert()))
	assert.Nil(t, gotAuth, "no username means no auth")
}

func TestEmailDeliverNoRecipients(t *testing.T) {
	h := NewEmailHandler(EmailConfig{Host: "localhost", From: "a@b.c"}, zaptest.NewLogger(t))
	assert.Error(t, h.Deliver(context.Background(), sampleAlert()))
}

func TestEmailEscalatedMessage(t *testing.T) {
	var gotMsg []byte
	h := NewEmailHandler(EmailConfig{
		Host: "localhost",
		From: "alerts@example.com",
		To:   []string{"dev@example.com"},
	}, zaptest.NewLogger(t))
	h.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotMsg = msg
		return nil
	}

	alert := sampleAlert()
	alert.EscalationLevel = 1
	require.NoError(t, h.Deliver(context.Background(), alert))
	assert.Contains(t, string(gotMsg), "Escalation level: 1")
}
