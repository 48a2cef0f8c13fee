package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

func TestSlackDeliver(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := NewSlackHandler(SlackConfig{WebhookURL: server.URL, Channel: "#alerts"}, zaptest.NewLogger(t))
	alert := sampleAlert()

	require.NoError(t, h.Deliver(context.Background(), alert))

	assert.Equal(t, "#alerts", payload["channel"])
	assert.Equal(t, "Sentinel", payload["username"], "username defaults")
	assert.Equal(t, ":rotating_light:", payload["icon_emoji"])

	attachments := payload["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	attachment := attachments[0].(map[string]interface{})
	assert.Equal(t, "danger", attachment["color"], "high severity is red")
	assert.Equal(t, "high_cpu_usage", attachment["title"])
	assert.Equal(t, alert.Message, attachment["text"])
	assert.Equal(t, float64(alert.Timestamp.Unix()), attachment["ts"])
	assert.Len(t, attachment["fields"].([]interface{}), 4)
}

func TestSlackDeliverEscalatedAddsField(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := NewSlackHandler(SlackConfig{WebhookURL: server.URL}, zaptest.NewLogger(t))
	alert := sampleAlert()
	alert.EscalationLevel = 2

	require.NoError(t, h.Deliver(context.Background(), alert))

	attachment := payload["attachments"].([]interface{})[0].(map[string]interface{})
	fields := attachment["fields"].([]interface{})
	require.Len(t, fields, 5)
	last := fields[4].(map[string]interface{})
	assert.Equal(t, "Escalation Level", last["title"])
	assert.Equal(t, "2", last["value"])
}

func TestSlackDeliverServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	h := NewSlackHandler(SlackConfig{WebhookURL: server.URL}, zaptest.NewLogger(t))
	err := h.Deliver(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestSeverityColors(t *testing.T) {
	assert.Equal(t, "good", severityColor(alerting.SeverityLow))
	assert.Equal(t, "warning", severityColor(alerting.SeverityMedium))
	assert.Equal(t, "danger", severityColor(alerting.SeverityHigh))
	assert.Equal(t, "#FF0000", severityColor(alerting.SeverityCritical))
	assert.Equal(t, "#CCCCCC", severityColor(alerting.Severity("bogus")))
}
