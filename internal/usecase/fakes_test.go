package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/repository"
	"GateKeeper/internal/service/event"
	"GateKeeper/internal/service/gate"
	"GateKeeper/internal/service/lock"
	"GateKeeper/internal/service/regime"
	"GateKeeper/internal/service/throttle"
	"GateKeeper/pkg/cache"
	"GateKeeper/pkg/metrics"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []models.AnalysisRequest
	outcome string
	action  models.ActionType
	err     error
}

func (a *fakeAnalyzer) Analyze(_ context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	if a.err != nil {
		return nil, a.err
	}
	return &models.AnalysisResult{Symbol: req.Symbol, Outcome: a.outcome, Action: a.action, Size: 1, Confidence: 0.7}, nil
}

func (a *fakeAnalyzer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type fakeBroker struct {
	mu      sync.Mutex
	intents []models.OrderIntent
	err     error
}

func (b *fakeBroker) Submit(_ context.Context, intent models.OrderIntent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.intents = append(b.intents, intent)
	return nil
}

type rig struct {
	runner   *CycleRunner
	analyzer *fakeAnalyzer
	broker   *fakeBroker
	gate     *gate.Gate
	locks    *lock.Manager
	throttle *throttle.Throttle
	mem      *cache.MemoryCache
}

type rigOptions struct {
	gate  gate.Config
	owner string
	mem   *cache.MemoryCache
}

func newRig(t *testing.T, opts rigOptions) *rig {
	t.Helper()
	mem := opts.mem
	if mem == nil {
		mem = cache.NewMemoryCache()
		t.Cleanup(func() { _ = mem.Close() })
	}
	if opts.owner == "" {
		opts.owner = "proc-a"
	}
	if opts.gate.Location == nil {
		opts.gate = gate.DefaultConfig()
		opts.gate.Cooldown = 0
	}

	r := &rig{
		analyzer: &fakeAnalyzer{outcome: models.OutcomeNoTrade},
		broker:   &fakeBroker{},
		mem:      mem,
	}
	rec := metrics.Nop{}
	r.locks = lock.NewManager(repository.NewCacheLockStore(mem, time.Hour), nil, lock.DefaultConfig(), nil, rec)
	r.gate = gate.New(repository.NewCacheGateStateStore(mem, "gate:state", time.Second), nil, opts.gate, nil, rec)
	r.gate.Register(AnalysisGate, gate.Spec{})
	r.throttle = throttle.New(throttle.DefaultConfig(), nil, nil, nil, rec)

	r.runner = NewCycleRunner(
		CycleConfig{
			Owner:        opts.owner,
			EventLockTTL: 10 * time.Minute,
			UserLockTTL:  opts.gate.UserWindow,
			AnalysisCost: decimal.RequireFromString("0.02"),
		},
		regime.NewRegistry(regime.DefaultConfig(), nil, rec),
		event.NewDetector(event.DefaultConfig(), nil, rec),
		r.locks,
		r.gate,
		r.analyzer,
		NewOrderGuard(r.throttle, r.broker, nil, rec),
		nil,
		rec,
	)
	return r
}

func snapshot(symbol string, at time.Time) models.FeatureSnapshot {
	return models.FeatureSnapshot{
		Symbol:      symbol,
		At:          at,
		Price:       100,
		VolRatio:    1,
		VolumeRatio: 1,
		BandWidth:   0.02,
	}
}
