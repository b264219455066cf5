package config

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// ============================================================================
// LoadEnv helpers
// ============================================================================

func TestLoadEnvString(t *testing.T) {
	t.Setenv("TEST_STRING", "custom")
	r := LoadEnvString("TEST_STRING", "default", nil)
	assert.Equal(t, "custom", r.Value)
	assert.False(t, r.FallbackApplied)

	r = LoadEnvString("TEST_STRING_UNSET", "default", nil)
	assert.Equal(t, "default", r.Value)
	assert.False(t, r.FallbackApplied)
}

func TestLoadEnvString_ValidationFallback(t *testing.T) {
	t.Setenv("TEST_BACKEND", "kafka")

	r := LoadEnvString("TEST_BACKEND", "memory", ValidateOneOf("memory", "amqp"))

	assert.Equal(t, "memory", r.Value)
	assert.True(t, r.FallbackApplied)
	assert.Contains(t, r.Warning, "TEST_BACKEND")
	assert.Contains(t, r.Warning, "kafka")
}

func TestLoadEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		want         int
		wantFallback bool
	}{
		{name: "valid", value: "50", want: 50},
		{name: "padded", value: " 7 ", want: 7},
		{name: "not a number", value: "abc", want: 10, wantFallback: true},
		{name: "out of range", value: "1000", want: 10, wantFallback: true},
		{name: "unset", value: "", want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.value)
			r := LoadEnvInt("TEST_INT", 10, func(v int) error { return ValidateIntRange(v, 1, 100) })
			assert.Equal(t, tt.want, r.Value)
			assert.Equal(t, tt.wantFallback, r.FallbackApplied)
		})
	}
}

func TestLoadEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	r := LoadEnvDuration("TEST_DURATION", time.Minute, ValidatePositiveDuration)
	assert.Equal(t, 90*time.Second, r.Value)

	t.Setenv("TEST_DURATION", "-5s")
	r = LoadEnvDuration("TEST_DURATION", time.Minute, ValidatePositiveDuration)
	assert.Equal(t, time.Minute, r.Value)
	assert.True(t, r.FallbackApplied)

	t.Setenv("TEST_DURATION", "soon")
	r = LoadEnvDuration("TEST_DURATION", time.Minute, nil)
	assert.Equal(t, time.Minute, r.Value)
	assert.True(t, r.FallbackApplied)
}

func TestLoadEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	assert.True(t, LoadEnvBool("TEST_BOOL", false).Value)

	t.Setenv("TEST_BOOL", "0")
	assert.False(t, LoadEnvBool("TEST_BOOL", true).Value)

	t.Setenv("TEST_BOOL", "maybe")
	r := LoadEnvBool("TEST_BOOL", true)
	assert.True(t, r.Value)
	assert.True(t, r.FallbackApplied)
}

func TestLoadEnvStringList(t *testing.T) {
	t.Setenv("TEST_LIST", "a, b,,c ")
	assert.Equal(t, []string{"a", "b", "c"}, LoadEnvStringList("TEST_LIST", nil).Value)

	t.Setenv("TEST_LIST", " , ")
	r := LoadEnvStringList("TEST_LIST", []string{"x"})
	assert.Equal(t, []string{"x"}, r.Value)
	assert.True(t, r.FallbackApplied)
}

// ============================================================================
// Loader
// ============================================================================

func TestLoader_RecordsFallbacks(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewConfigMetricsWith(reg, "test_loader")
	l := NewLoader(nil, metrics)

	t.Setenv("TEST_SHARD", "-1")
	t.Setenv("TEST_TZ", "UTC")

	shard := Apply(l, "shard_size", LoadEnvInt("TEST_SHARD", 50, func(v int) error { return ValidateIntRange(v, 1, 1000) }))
	tz := Apply(l, "timezone", LoadEnvString("TEST_TZ", "Asia/Tokyo", ValidateTimezone))
	l.Finish()

	assert.Equal(t, 50, shard)
	assert.Equal(t, "UTC", tz)
	assert.True(t, l.FallbackApplied())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("shard_size")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ValidationErrorsTotal.WithLabelValues("shard_size")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("timezone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FallbackActive))
	assert.Greater(t, testutil.ToFloat64(metrics.LoadTimestamp), 0.0)
}

func TestLoader_NoMetrics(t *testing.T) {
	l := NewLoader(nil, nil)
	v := Apply(l, "x", LoadResult[int]{Value: 3, FallbackApplied: true, Warning: "w"})
	l.Finish()

	assert.Equal(t, 3, v)
	assert.True(t, l.FallbackApplied())
}
