package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
)

func TestSchedulerRejectsBadSpec(t *testing.T) {
	r := newRig(t, rigOptions{})
	_, err := NewScheduler(SchedulerConfig{CleanupSpec: "not a spec"}, r.locks, r.runner, nil)
	assert.Error(t, err)
}

func TestSchedulerCleanupAndAnalyze(t *testing.T) {
	r := newRig(t, rigOptions{})
	ctx := context.Background()
	s, err := NewScheduler(SchedulerConfig{
		CleanupSpec:  "@every 1m",
		AnalysisSpec: "@every 1h",
		Symbols:      []string{"BTCUSDT", "ETHUSDT"},
	}, r.locks, r.runner, nil)
	require.NoError(t, err)

	ok, _ := r.locks.Acquire(ctx, "short", time.Millisecond, "proc-a", models.LockKindManual, "")
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, s.Cleanup(ctx))

	r.runner.Run(ctx, models.CycleInput{Snapshot: snapshot("BTCUSDT", time.Now())})
	assert.Equal(t, 1, s.Analyze(ctx), "ETHUSDT has no snapshot yet")

	s.Start()
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(stopCtx))
}
