package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/service/throttle"
)

func TestGuardThrottlesSecondEntry(t *testing.T) {
	broker := &fakeBroker{}
	g := NewOrderGuard(throttle.New(throttle.DefaultConfig(), nil, nil, nil, nil), broker, nil, nil)
	ctx := context.Background()

	first := g.Submit(ctx, models.OrderIntent{Symbol: "BTCUSDT", Action: models.ActionOpen, Size: 1})
	require.True(t, first.Accepted)

	second := g.Submit(ctx, models.OrderIntent{Symbol: "ETHUSDT", Action: models.ActionOpen, Size: 1})
	assert.False(t, second.Submitted)
	assert.Equal(t, throttle.ReasonActionCooldown, second.Check.Reason)

	exit := g.Submit(ctx, models.OrderIntent{Symbol: "BTCUSDT", Action: models.ActionClose, Size: 1})
	assert.True(t, exit.Accepted)
	assert.Len(t, broker.intents, 2)
}

func TestGuardRateLimitRejectionLocksEntries(t *testing.T) {
	th := throttle.New(throttle.DefaultConfig(), nil, nil, nil, nil)
	broker := &fakeBroker{err: &models.RejectionError{Code: "429", Reason: "too many requests"}}
	g := NewOrderGuard(th, broker, nil, nil)

	res := g.Submit(context.Background(), models.OrderIntent{Symbol: "BTCUSDT", Action: models.ActionOpen})
	assert.True(t, res.Submitted)
	assert.False(t, res.Accepted)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, models.RejectRateLimit, res.Rejection.Kind)
	assert.False(t, th.Status().EntryLockUntil.IsZero())
}

func TestGuardPlainErrorIsNetwork(t *testing.T) {
	broker := &fakeBroker{err: errors.New("connection reset")}
	g := NewOrderGuard(throttle.New(throttle.DefaultConfig(), nil, nil, nil, nil), broker, nil, nil)

	res := g.Submit(context.Background(), models.OrderIntent{Symbol: "BTCUSDT", Action: models.ActionAdd})
	require.NotNil(t, res.Rejection)
	assert.Equal(t, models.RejectNetwork, res.Rejection.Kind)
}

func TestIntentFrom(t *testing.T) {
	long := &models.Position{Symbol: "BTCUSDT", Side: models.SideLong, Size: 3}

	_, ok := IntentFrom(&models.AnalysisResult{Outcome: models.OutcomeNoTrade}, nil, "")
	assert.False(t, ok)
	_, ok = IntentFrom(nil, nil, "")
	assert.False(t, ok)
	_, ok = IntentFrom(&models.AnalysisResult{Outcome: "exit"}, nil, "")
	assert.False(t, ok, "nothing to exit")

	in, ok := IntentFrom(&models.AnalysisResult{Symbol: "BTCUSDT", Outcome: "long", Size: 1}, nil, "h")
	require.True(t, ok)
	assert.Equal(t, models.ActionOpen, in.Action)
	assert.Equal(t, "h", in.EventID)

	in, _ = IntentFrom(&models.AnalysisResult{Symbol: "BTCUSDT", Outcome: "long", Size: 1}, long, "")
	assert.Equal(t, models.ActionAdd, in.Action)

	in, _ = IntentFrom(&models.AnalysisResult{Symbol: "BTCUSDT", Outcome: "exit"}, long, "")
	assert.Equal(t, models.ActionClose, in.Action)
	assert.Equal(t, 3.0, in.Size)
	assert.Equal(t, models.SideLong, in.Side)
}
