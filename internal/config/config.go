// Package config loads the daemon configuration from YAML files and
// SENTINEL_-prefixed environment variables, applies defaults and
// validates the result.
package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Aidin1998/sentinel/internal/alerting"
	"github.com/Aidin1998/sentinel/internal/archive"
	"github.com/Aidin1998/sentinel/internal/notify"
)

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level    string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Encoding string `mapstructure:"encoding" yaml:"encoding" validate:"omitempty,oneof=json console"`
}

// ChannelsConfig holds the delivery transports to register. A nil
// section leaves that channel on the log fallback.
type ChannelsConfig struct {
	Webhook   *notify.WebhookConfig   `mapstructure:"webhook" yaml:"webhook,omitempty"`
	Slack     *notify.SlackConfig     `mapstructure:"slack" yaml:"slack,omitempty"`
	Email     *notify.EmailConfig     `mapstructure:"email" yaml:"email,omitempty"`
	PagerDuty *notify.PagerDutyConfig `mapstructure:"pagerduty" yaml:"pagerduty,omitempty"`
	Kafka     *notify.KafkaConfig     `mapstructure:"kafka" yaml:"kafka,omitempty"`
}

// ArchiveConfig selects where engine events are persisted.
type ArchiveConfig struct {
	Driver     string              `mapstructure:"driver" yaml:"driver" validate:"omitempty,oneof=none sqlite redis"`
	SQLitePath string              `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Redis      archive.RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Config is the full daemon configuration.
type Config struct {
	Logging       LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Engine        alerting.Config `mapstructure:"engine" yaml:"engine"`
	Channels      ChannelsConfig  `mapstructure:"channels" yaml:"channels"`
	Archive       ArchiveConfig   `mapstructure:"archive" yaml:"archive"`
	Metrics       MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	RulesFile     string          `mapstructure:"rules_file" yaml:"rules_file"`
	PlaybooksFile string          `mapstructure:"playbooks_file" yaml:"playbooks_file"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// defaultPaths are searched when Load is called without an explicit
// config file.
var defaultPaths = []string{
	"./sentinel.yaml",
	"./configs/sentinel.yaml",
	"/etc/sentinel/config.yaml",
}

// Load reads the configuration. When path is empty the default
// locations are tried and missing files are skipped; an explicit path
// must exist. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SENTINEL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	} else {
		for _, candidate := range defaultPaths {
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				continue
			}
			v.SetConfigFile(candidate)
			if err := v.MergeInConfig(); err != nil {
				return nil, errors.Wrapf(err, "failed to read config file %s", candidate)
			}
		}
	}

	loadEnvironment(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	setDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

// loadEnvironment maps well-known environment variables onto config
// keys so they survive Unmarshal even without a config file.
func loadEnvironment(v *viper.Viper) {
	envMappings := map[string]string{
		"SENTINEL_LOGGING_LEVEL":    "logging.level",
		"SENTINEL_LOGGING_ENCODING": "logging.encoding",

		"SENTINEL_ENGINE_MAX_HISTORY":                "engine.max_history",
		"SENTINEL_ENGINE_MAX_NOTIFICATIONS_PER_HOUR": "engine.max_notifications_per_hour",
		"SENTINEL_ENGINE_MAX_NOTIFICATIONS_PER_DAY":  "engine.max_notifications_per_day",
		"SENTINEL_ENGINE_GROUP_WINDOW":               "engine.group_window",
		"SENTINEL_ENGINE_DISPATCH_TIMEOUT":           "engine.dispatch_timeout",
		"SENTINEL_ENGINE_SWEEP_INTERVAL":             "engine.sweep_interval",

		"SENTINEL_CHANNELS_WEBHOOK_URL":           "channels.webhook.url",
		"SENTINEL_CHANNELS_SLACK_WEBHOOK_URL":     "channels.slack.webhook_url",
		"SENTINEL_CHANNELS_SLACK_CHANNEL":         "channels.slack.channel",
		"SENTINEL_CHANNELS_EMAIL_HOST":            "channels.email.host",
		"SENTINEL_CHANNELS_EMAIL_USERNAME":        "channels.email.username",
		"SENTINEL_CHANNELS_EMAIL_PASSWORD":        "channels.email.password",
		"SENTINEL_CHANNELS_PAGERDUTY_ROUTING_KEY": "channels.pagerduty.routing_key",
		"SENTINEL_CHANNELS_KAFKA_BROKERS":         "channels.kafka.brokers",
		"SENTINEL_CHANNELS_KAFKA_TOPIC":           "channels.kafka.topic",

		"SENTINEL_ARCHIVE_DRIVER":         "archive.driver",
		"SENTINEL_ARCHIVE_SQLITE_PATH":    "archive.sqlite_path",
		"SENTINEL_ARCHIVE_REDIS_ADDR":     "archive.redis.addr",
		"SENTINEL_ARCHIVE_REDIS_PASSWORD": "archive.redis.password",

		"SENTINEL_METRICS_ENABLED": "metrics.enabled",
		"SENTINEL_METRICS_ADDR":    "metrics.addr",

		"SENTINEL_RULES_FILE":     "rules_file",
		"SENTINEL_PLAYBOOKS_FILE": "playbooks_file",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// setDefaults fills gaps the engine and adapters do not normalize
// themselves.
func setDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Encoding == "" {
		cfg.Logging.Encoding = "json"
	}
	if cfg.Archive.Driver == "" {
		cfg.Archive.Driver = "none"
	}
	if cfg.Archive.Driver == "sqlite" && cfg.Archive.SQLitePath == "" {
		cfg.Archive.SQLitePath = "sentinel.db"
	}
	if cfg.Archive.Driver == "redis" && cfg.Archive.Redis.Addr == "" {
		cfg.Archive.Redis.Addr = "localhost:6379"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}
