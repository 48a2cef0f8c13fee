package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestRedisSinkKeys(t *testing.T) {
	sink := NewRedisSink(nil, RedisConfig{}, zaptest.NewLogger(t))

	assert.Equal(t, "sentinel:rule:high_cpu_usage", sink.ruleKey("high_cpu_usage"))
	assert.Equal(t, "sentinel:alert:abc", sink.alertKey("abc"))
	assert.Equal(t, "sentinel:alert:latest:high_cpu_usage", sink.latestAlertKey("high_cpu_usage"))
	assert.Equal(t, "sentinel:incident:abc", sink.incidentKey("abc"))
}

func TestRedisSinkConfigDefaults(t *testing.T) {
	sink := NewRedisSink(nil, RedisConfig{}, zaptest.NewLogger(t))
	assert.Equal(t, "sentinel", sink.prefix)
	assert.Equal(t, DefaultRedisTTL, sink.ttl)

	sink = NewRedisSink(nil, RedisConfig{KeyPrefix: "ops", TTL: time.Hour}, zaptest.NewLogger(t))
	assert.Equal(t, "ops:rule:x", sink.ruleKey("x"))
	assert.Equal(t, time.Hour, sink.ttl)
}
