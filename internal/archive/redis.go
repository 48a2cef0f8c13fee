package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

// Redis key templates. Rules live forever, alerts and incidents
// expire after the configured TTL.
const (
	ruleKeyPattern        = "%s:rule:%s"
	alertKeyPattern       = "%s:alert:%s"
	latestAlertKeyPattern = "%s:alert:latest:%s"
	incidentKeyPattern    = "%s:incident:%s"
)

// DefaultRedisTTL keeps a week of alert and incident state around.
const DefaultRedisTTL = 7 * 24 * time.Hour

// RedisConfig holds connection and retention settings for the redis
// archive.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}
	return client, nil
}

// RedisSink archives engine events as JSON values in redis. Each
// event overwrites its key, so redis always holds the latest state of
// every rule, alert and incident it has seen.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ alerting.Sink = (*RedisSink)(nil)

// NewRedisSink wraps an established client.
func NewRedisSink(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisSink {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "sentinel"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// RuleRegistered implements alerting.Sink.
func (s *RedisSink) RuleRegistered(ctx context.Context, rule alerting.AlertRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal rule %s", rule.Name)
	}
	if err := s.client.Set(ctx, s.ruleKey(rule.Name), data, 0).Err(); err != nil {
		return errors.Wrapf(err, "failed to archive rule %s", rule.Name)
	}
	return nil
}

// AlertFired implements alerting.Sink.
func (s *RedisSink) AlertFired(ctx context.Context, alert alerting.Alert) error {
	return s.writeAlert(ctx, alert)
}

// AlertResolved implements alerting.Sink.
func (s *RedisSink) AlertResolved(ctx context.Context, alert alerting.Alert) error {
	return s.writeAlert(ctx, alert)
}

// IncidentOpened implements alerting.Sink.
func (s *RedisSink) IncidentOpened(ctx context.Context, incident alerting.Incident) error {
	return s.writeIncident(ctx, incident)
}

// IncidentResolved implements alerting.Sink.
func (s *RedisSink) IncidentResolved(ctx context.Context, incident alerting.Incident) error {
	return s.writeIncident(ctx, incident)
}

// LatestAlert returns the most recent alert state archived for a
// rule, or false when none is cached.
func (s *RedisSink) LatestAlert(ctx context.Context, ruleName string) (alerting.Alert, bool, error) {
	data, err := s.client.Get(ctx, s.latestAlertKey(ruleName)).Result()
	if err == redis.Nil {
		return alerting.Alert{}, false, nil
	}
	if err != nil {
		return alerting.Alert{}, false, errors.Wrapf(err, "failed to read latest alert for %s", ruleName)
	}
	var alert alerting.Alert
	if err := json.Unmarshal([]byte(data), &alert); err != nil {
		return alerting.Alert{}, false, errors.Wrapf(err, "failed to decode latest alert for %s", ruleName)
	}
	return alert, true, nil
}

func (s *RedisSink) writeAlert(ctx context.Context, alert alerting.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal alert %s", alert.ID)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.alertKey(alert.ID.String()), data, s.ttl)
	pipe.Set(ctx, s.latestAlertKey(alert.RuleName), data, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to archive alert %s", alert.ID)
	}
	return nil
}

func (s *RedisSink) writeIncident(ctx context.Context, incident alerting.Incident) error {
	data, err := json.Marshal(incident)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal incident %s", incident.ID)
	}
	if err := s.client.Set(ctx, s.incidentKey(incident.ID.String()), data, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to archive incident %s", incident.ID)
	}
	return nil
}

func (s *RedisSink) ruleKey(name string) string {
	return fmt.Sprintf(ruleKeyPattern, s.prefix, name)
}

func (s *RedisSink) alertKey(id string) string {
	return fmt.Sprintf(alertKeyPattern, s.prefix, id)
}

func (s *RedisSink) latestAlertKey(ruleName string) string {
	return fmt.Sprintf(latestAlertKeyPattern, s.prefix, ruleName)
}

func (s *RedisSink) incidentKey(id string) string {
	return fmt.Sprintf(incidentKeyPattern, s.prefix, id)
}
