package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorMatches(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{"gt above", OperatorGT, 85, 80, true},
		{"gt equal", OperatorGT, 80, 80, false},
		{"gt below", OperatorGT, 75, 80, false},
		{"lt below", OperatorLT, 0.5, 1, true},
		{"lt equal", OperatorLT, 1, 1, false},
		{"eq exact", OperatorEQ, 42, 42, true},
		{"eq within tolerance", OperatorEQ, 42.0004, 42, true},
		{"eq at tolerance", OperatorEQ, 42.001, 42, false},
		{"eq outside tolerance", OperatorEQ, 42.1, 42, false},
		{"unknown operator", Operator("ge"), 100, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Matches(tt.value, tt.threshold))
		})
	}
}

func TestRuleValidate(t *testing.T) {
	valid := AlertRule{
		Name:      "cpu_high",
		Metric:    "cpu_percent",
		Threshold: 80,
		Operator:  OperatorGT,
		Severity:  SeverityHigh,
		Channels:  []Channel{ChannelEmail},
		Cooldown:  600,
	}
	require.NoError(t, valid.Validate())

	t.Run("missing name", func(t *testing.T) {
		rule := valid
		rule.Name = ""
		assert.Error(t, rule.Validate())
	})

	t.Run("bad operator", func(t *testing.T) {
		rule := valid
		rule.Operator = "between"
		assert.Error(t, rule.Validate())
	})

	t.Run("bad severity", func(t *testing.T) {
		rule := valid
		rule.Severity = "urgent"
		assert.Error(t, rule.Validate())
	})

	t.Run("bad channel", func(t *testing.T) {
		rule := valid
		rule.Channels = []Channel{"carrier_pigeon"}
		assert.Error(t, rule.Validate())
	})

	t.Run("negative cooldown", func(t *testing.T) {
		rule := valid
		rule.Cooldown = -1
		assert.Error(t, rule.Validate())
	})
}

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 4)

	byName := make(map[string]AlertRule, len(rules))
	for _, rule := range rules {
		require.NoError(t, rule.Validate())
		byName[rule.Name] = rule
	}

	cpu, ok := byName["high_cpu_usage"]
	require.True(t, ok)
	assert.Equal(t, 80.0, cpu.Threshold)
	assert.Equal(t, SeverityHigh, cpu.Severity)

	mem, ok := byName["high_memory_usage"]
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, mem.Severity)
	assert.Contains(t, mem.Channels, ChannelPagerDuty)
}
