package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/middleware"
)

type fakeStream struct {
	mu         sync.Mutex
	inCh       chan *models.CycleInput
	errCh      chan error
	reads      int
	reconnects int
	closed     bool
}

func (s *fakeStream) Connect(context.Context) error { return nil }

func (s *fakeStream) Read(context.Context) (<-chan *models.CycleInput, <-chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inCh = make(chan *models.CycleInput, 8)
	s.errCh = make(chan error, 1)
	s.reads++
	return s.inCh, s.errCh
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) IsConnected() bool { return true }

func (s *fakeStream) channels() (chan *models.CycleInput, chan error, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inCh, s.errCh, s.reads
}

type collectorProc struct {
	mu      sync.Mutex
	symbols []string
}

func (p *collectorProc) Process(_ context.Context, in *models.CycleInput) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbols = append(p.symbols, in.Snapshot.Symbol)
	return nil
}

func (p *collectorProc) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.symbols...)
}

func TestCollectorForwardsAndReconnects(t *testing.T) {
	stream := &fakeStream{}
	proc := &collectorProc{}
	pipe := middleware.NewSnapshotPipeline(proc, nil, middleware.WithMinInterval(0))
	c := NewSnapshotCollector(stream, pipe, nil, nil)
	c.reconnectDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	in, errs, _ := stream.channels()
	first := snapshot("BTCUSDT", time.Now())
	in <- &models.CycleInput{Snapshot: first}
	require.Eventually(t, func() bool { return len(proc.seen()) == 1 }, time.Second, 5*time.Millisecond)

	errs <- errors.New("connection reset")
	require.Eventually(t, func() bool {
		_, _, reads := stream.channels()
		return reads == 2
	}, time.Second, 5*time.Millisecond)

	in, _, _ = stream.channels()
	second := snapshot("ETHUSDT", time.Now())
	in <- &models.CycleInput{Snapshot: second}
	require.Eventually(t, func() bool { return len(proc.seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, proc.seen())

	require.NoError(t, c.Shutdown(context.Background()))
	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.True(t, stream.closed)
	assert.Equal(t, 1, stream.reconnects)
}
