package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/service/gate"
)

func TestQuietSnapshotStaysIdle(t *testing.T) {
	r := newRig(t, rigOptions{})

	out := r.runner.Run(context.Background(), models.CycleInput{Snapshot: snapshot("BTCUSDT", time.Now())})
	assert.Equal(t, StageIdle, out.Stage)
	assert.Equal(t, models.ModeDefault, out.Event.Mode)
	assert.Equal(t, models.RegimeRange, out.Regime.Class)
	assert.Zero(t, r.analyzer.count())
}

func TestEventRunsAnalysisAndOrder(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.analyzer.outcome = "long"
	snap := snapshot("BTCUSDT", time.Now())
	snap.Ret5m = 0.015

	out := r.runner.Run(context.Background(), models.CycleInput{Snapshot: snap})
	require.Equal(t, StageOrdered, out.Stage)
	require.NotNil(t, out.Gate)
	assert.True(t, out.Gate.Executed)
	require.Len(t, r.analyzer.calls, 1)
	assert.Equal(t, models.ModeEvent, r.analyzer.calls[0].Mode)
	assert.Equal(t, out.Event.EventHash, r.analyzer.calls[0].EventHash)

	require.Len(t, r.broker.intents, 1)
	intent := r.broker.intents[0]
	assert.Equal(t, models.ActionOpen, intent.Action)
	assert.Equal(t, models.SideLong, intent.Side)
	assert.NotEmpty(t, intent.ID)
	assert.Equal(t, out.Event.EventHash, intent.EventID)

	st := r.gate.Status(context.Background())
	assert.Equal(t, 1, st.State.DailyCalls)
}

func TestSecondProcessSeesEventLock(t *testing.T) {
	a := newRig(t, rigOptions{owner: "proc-a"})
	b := newRig(t, rigOptions{owner: "proc-b", mem: a.mem})

	snap := snapshot("BTCUSDT", time.Now())
	snap.Ret5m = 0.015

	first := a.runner.Run(context.Background(), models.CycleInput{Snapshot: snap})
	require.Equal(t, StageAnalyzed, first.Stage)

	second := b.runner.Run(context.Background(), models.CycleInput{Snapshot: snap})
	assert.Equal(t, StageLocked, second.Stage)
	require.NotNil(t, second.Lock)
	assert.Equal(t, "proc-a", second.Lock.Holder)
	assert.Zero(t, b.analyzer.count())
}

func TestUserRequestLockLastsOnlyTheUserWindow(t *testing.T) {
	cfg := gate.DefaultConfig()
	cfg.Cooldown = 0
	cfg.UserWindow = 20 * time.Millisecond
	r := newRig(t, rigOptions{gate: cfg})
	ctx := context.Background()
	snap := snapshot("BTCUSDT", time.Now())

	first := r.runner.Run(ctx, models.CycleInput{Snapshot: snap, UserRequested: true})
	require.Equal(t, StageAnalyzed, first.Stage)
	assert.Equal(t, models.ModeUser, first.Event.Mode)

	again := r.runner.Run(ctx, models.CycleInput{Snapshot: snap, UserRequested: true})
	assert.Equal(t, StageLocked, again.Stage)
	require.NotNil(t, again.Lock)
	assert.LessOrEqual(t, again.Lock.Remaining, cfg.UserWindow)

	time.Sleep(40 * time.Millisecond)
	later := r.runner.Run(ctx, models.CycleInput{Snapshot: snap, UserRequested: true})
	assert.Equal(t, StageAnalyzed, later.Stage)
	assert.Equal(t, 2, r.analyzer.count())
}

func TestRepeatedNoTradeSuppressesEvents(t *testing.T) {
	r := newRig(t, rigOptions{})
	ctx := context.Background()
	base := time.Now()

	bumps := []func(*models.FeatureSnapshot){
		func(s *models.FeatureSnapshot) { s.Ret5m = 0.015 },
		func(s *models.FeatureSnapshot) { s.Ret1h = 0.04 },
		func(s *models.FeatureSnapshot) { s.Ret15m = 0.025 },
	}
	var last CycleOutcome
	for i, bump := range bumps {
		snap := snapshot("BTCUSDT", base.Add(time.Duration(i)*time.Minute))
		bump(&snap)
		last = r.runner.Run(ctx, models.CycleInput{Snapshot: snap})
		require.Equal(t, StageAnalyzed, last.Stage, "run %d", i)
	}
	require.NotNil(t, last.Suppression)
	assert.True(t, last.Suppression.Suppressed)
	assert.True(t, last.Suppression.Created)

	snap := snapshot("BTCUSDT", base.Add(3*time.Minute))
	snap.VolumeRatio = 3.5
	out := r.runner.Run(ctx, models.CycleInput{Snapshot: snap})
	assert.Equal(t, StageSuppressed, out.Stage)
	assert.Equal(t, 3, r.analyzer.count())

	user, err := r.runner.RequestAnalysis(ctx, "BTCUSDT", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ModeUser, user.Event.Mode)
	assert.Equal(t, StageAnalyzed, user.Stage, "user requests ignore suppression")
}

func TestEmergencyExitStartsLockout(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.analyzer.outcome = "exit"
	ctx := context.Background()
	pos := &models.Position{Symbol: "BTCUSDT", Side: models.SideLong, EntryPrice: 100, Size: 2}

	// ten-minute cap already used up; exits still pass
	for i := 0; i < 4; i++ {
		r.throttle.RecordAttempt(ctx, "ETHUSDT", models.ActionOpen, models.AttemptSubmitted)
	}

	now := time.Now()
	snap := snapshot("BTCUSDT", now)
	snap.Ret1m = -0.05
	snap.VolumeRatio = 2

	out := r.runner.Run(ctx, models.CycleInput{Snapshot: snap, Position: pos})
	require.Equal(t, models.ModeEmergency, out.Event.Mode)
	require.Equal(t, StageOrdered, out.Stage)
	assert.Equal(t, models.CallUrgentSystem, r.analyzer.calls[0].Mode.CallClass())
	require.Len(t, r.broker.intents, 1)
	assert.Equal(t, models.ActionClose, r.broker.intents[0].Action)
	assert.Equal(t, models.SideLong, r.broker.intents[0].Side)

	snap.At = now.Add(time.Minute)
	again := r.runner.Run(ctx, models.CycleInput{Snapshot: snap, Position: pos})
	assert.Equal(t, StageIdle, again.Stage)
	assert.Contains(t, again.Event.Reasons, "emergency_lockout")
}

func TestOverloadOpensGateBackoff(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.analyzer.err = &models.OverloadError{StatusCode: 503}
	ctx := context.Background()
	base := time.Now()

	snap := snapshot("BTCUSDT", base)
	snap.Ret5m = 0.015
	out := r.runner.Run(ctx, models.CycleInput{Snapshot: snap})
	require.Equal(t, StageGated, out.Stage)
	assert.Equal(t, models.ReasonActionFailed, out.Gate.Reason)

	r.analyzer.err = nil
	next := snapshot("ETHUSDT", base.Add(time.Minute))
	next.Ret1h = 0.05
	out = r.runner.Run(ctx, models.CycleInput{Snapshot: next})
	require.Equal(t, StageGated, out.Stage)
	assert.Equal(t, models.ReasonErrorBackoff, out.Gate.Reason)
	assert.Equal(t, 1, r.analyzer.count())
}

func TestScheduledRunUsesLatestSnapshot(t *testing.T) {
	r := newRig(t, rigOptions{})
	ctx := context.Background()

	_, ok := r.runner.RunScheduled(ctx, "BTCUSDT")
	assert.False(t, ok)

	r.runner.Run(ctx, models.CycleInput{Snapshot: snapshot("BTCUSDT", time.Now())})
	dec, ok := r.runner.RunScheduled(ctx, "BTCUSDT")
	require.True(t, ok)
	assert.True(t, dec.Executed)
	require.Len(t, r.analyzer.calls, 1)
	assert.Equal(t, models.ModeDefault, r.analyzer.calls[0].Mode)
	assert.Equal(t, 1, r.gate.Status(ctx).State.ScheduledCount)
}

func TestRequestAnalysisNeedsSnapshot(t *testing.T) {
	r := newRig(t, rigOptions{})

	_, err := r.runner.RequestAnalysis(context.Background(), "SOLUSDT", nil, nil)
	assert.Error(t, err)

	snap := snapshot("", time.Time{})
	out, err := r.runner.RequestAnalysis(context.Background(), "SOLUSDT", &snap, nil)
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", out.Symbol)
	assert.Equal(t, StageAnalyzed, out.Stage)
}
