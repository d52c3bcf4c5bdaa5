package middleware

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
)

type countingProc struct {
	mu    sync.Mutex
	seen  []string
	fails int
}

func (p *countingProc) Process(_ context.Context, in *models.CycleInput) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return errors.New("downstream busy")
	}
	p.seen = append(p.seen, in.Snapshot.Symbol)
	return nil
}

func (p *countingProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func input(symbol string) *models.CycleInput {
	return &models.CycleInput{Snapshot: models.FeatureSnapshot{Symbol: symbol, Price: 100}}
}

func TestPipelineRejectsInvalidInput(t *testing.T) {
	proc := &countingProc{}
	p := NewSnapshotPipeline(proc, nil)

	assert.ErrorIs(t, p.Process(context.Background(), nil), ErrInvalidInput)
	assert.Error(t, p.Process(context.Background(), input("")))

	bad := input("BTCUSDT")
	bad.Snapshot.Price = 0
	assert.Error(t, p.Process(context.Background(), bad))

	bad.Snapshot.Price = math.Inf(1)
	assert.Error(t, p.Process(context.Background(), bad))
	assert.Zero(t, proc.count())
}

func TestPipelineSpacesSystemCyclesPerSymbol(t *testing.T) {
	proc := &countingProc{}
	p := NewSnapshotPipeline(proc, nil, WithMinInterval(time.Minute))
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, input("BTCUSDT")))
	require.NoError(t, p.Process(ctx, input("BTCUSDT")))
	require.NoError(t, p.Process(ctx, input("ETHUSDT")))
	assert.Equal(t, 2, proc.count())

	user := input("BTCUSDT")
	user.UserRequested = true
	require.NoError(t, p.Process(ctx, user))
	assert.Equal(t, 3, proc.count(), "user requests are never spaced")

	now = now.Add(time.Minute)
	require.NoError(t, p.Process(ctx, input("BTCUSDT")))
	assert.Equal(t, 4, proc.count())
}

func TestPipelineRetriesBufferedInput(t *testing.T) {
	proc := &countingProc{fails: 2}
	p := NewSnapshotPipeline(proc, nil, WithMinInterval(0), WithRetryMax(3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	err := p.Process(ctx, input("BTCUSDT"))
	require.Error(t, err)

	assert.Eventually(t, func() bool { return proc.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPipelineDropsWhenBufferFull(t *testing.T) {
	proc := &countingProc{fails: 10}
	p := NewSnapshotPipeline(proc, nil, WithMinInterval(0), WithBufferSize(1))

	_ = p.Process(context.Background(), input("A"))
	_ = p.Process(context.Background(), input("B"))
	assert.Equal(t, 1, p.Buffered())
}
