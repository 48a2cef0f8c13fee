package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaDeliver(t *testing.T) {
	fake := &fakeWriter{}
	h := &KafkaHandler{writer: fake, topic: "sentinel.alerts", logger: zaptest.NewLogger(t)}
	alert := sampleAlert()

	require.NoError(t, h.Deliver(context.Background(), alert))

	require.Len(t, fake.msgs, 1)
	msg := fake.msgs[0]
	assert.Equal(t, []byte("high_cpu_usage"), msg.Key, "messages are keyed by rule")
	assert.Equal(t, alert.Timestamp, msg.Time)

	var payload alertPayload
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, alert.ID.String(), payload.ID)
	assert.Equal(t, "high_cpu_usage", payload.Rule)
	assert.Equal(t, 92.5, payload.CurrentValue)
}

func TestKafkaDeliverWriteError(t *testing.T) {
	fake := &fakeWriter{err: errors.New("broker unreachable")}
	h := &KafkaHandler{writer: fake, topic: "sentinel.alerts", logger: zaptest.NewLogger(t)}

	err := h.Deliver(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sentinel.alerts")
}

func TestNewKafkaHandlerDefaults(t *testing.T) {
	h := NewKafkaHandler(KafkaConfig{Brokers: []string{"localhost:9092"}}, zaptest.NewLogger(t))
	assert.Equal(t, "sentinel.alerts", h.topic)
	require.NoError(t, h.Close())
}
