package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

// KafkaConfig configures the Kafka alert publisher.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// messageWriter is the slice of *kafka.Writer the handler needs, so
// tests can substitute a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaHandler publishes alerts to a Kafka topic, keyed by rule name
// so one rule's alerts stay ordered within a partition.
type KafkaHandler struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaHandler(cfg KafkaConfig, logger *zap.Logger) *KafkaHandler {
	if cfg.Topic == "" {
		cfg.Topic = "sentinel.alerts"
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  cfg.MaxAttempts,
	}
	return &KafkaHandler{writer: writer, topic: cfg.Topic, logger: logger}
}

// Deliver implements alerting.ChannelHandler.
func (h *KafkaHandler) Deliver(ctx context.Context, alert alerting.Alert) error {
	data, err := json.Marshal(payloadFor(alert))
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert event")
	}

	msg := kafka.Message{
		Key:   []byte(alert.RuleName),
		Value: data,
		Time:  alert.Timestamp,
	}
	if err := h.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to publish alert to %s", h.topic)
	}
	return nil
}

// Close flushes and shuts down the underlying writer.
func (h *KafkaHandler) Close() error {
	return h.writer.Close()
}
