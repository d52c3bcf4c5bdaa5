package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordGateDecision("analysis", "NORMAL", "COOLDOWN", false)
	r.RecordGateDecision("analysis", "NORMAL", "COOLDOWN", false)
	r.RecordLock("event", "acquired")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.gateDecisions.WithLabelValues("analysis", "NORMAL", "COOLDOWN", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.locks.WithLabelValues("event", "acquired")))
}

func TestRecordRegimeKeepsSingleSeries(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordRegime("BTCUSDT", "RANGE", true)
	r.RecordRegime("BTCUSDT", "BREAKOUT", true)
	r.RecordRegime("BTCUSDT", "DRIFT_UP", false)

	assert.Equal(t, 1, testutil.CollectAndCount(r.regime))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.regime.WithLabelValues("BTCUSDT", "BREAKOUT")))
}
