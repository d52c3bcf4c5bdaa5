package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("kafka:\n  brokers: [\"k1:9092\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Throttle.HourlyCap)
	assert.Equal(t, 15*time.Minute, cfg.Regime.MinDwell)
	assert.Equal(t, "redis", cfg.Coordination.LockBackend)
	assert.Equal(t, "gatekeeper.snapshots", cfg.Kafka.SnapshotTopic)
	assert.InDelta(t, 0.005, cfg.Event.PriceBucketPct, 1e-12)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestParseOverridesDefaults(t *testing.T) {
	raw := `
environment: production
kafka:
  brokers: ["a:9092", "b:9092"]
throttle:
  hourly_cap: 20
  ten_minute_cap: 6
gate:
  cooldown: 5m
metrics:
  enabled: false
`
	cfg, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Len(t, cfg.Kafka.Brokers, 2)
	assert.Equal(t, 20, cfg.Throttle.HourlyCap)
	assert.Equal(t, 5*time.Minute, cfg.Gate.Cooldown)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing brokers":      "environment: development\n",
		"unknown backend":      "kafka:\n  brokers: [\"k\"]\ncoordination:\n  lock_backend: etcd\n",
		"postgres without dsn": "kafka:\n  brokers: [\"k\"]\ncoordination:\n  lock_backend: postgres\n",
		"caps inverted":        "kafka:\n  brokers: [\"k\"]\nthrottle:\n  hourly_cap: 3\n  ten_minute_cap: 5\n",
		"bad timezone":         "kafka:\n  brokers: [\"k\"]\ngate:\n  timezone: Mars/Olympus\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "x:1,y:2")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("LOCK_BACKEND", "memory")

	cfg, err := LoadWithEnv("../../config/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"x:1", "y:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
	assert.Equal(t, "memory", cfg.Coordination.LockBackend)
}
