package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"GateKeeper/internal/domain/models"
	domrepo "GateKeeper/internal/domain/repository"
	"GateKeeper/internal/service/ratelimit"
	"GateKeeper/pkg/logger"
	pkgmetrics "GateKeeper/pkg/metrics"
)

// ErrInvalidInput wraps every validation failure returned by Process.
var ErrInvalidInput = errors.New("invalid cycle input")

// Proc is the downstream the pipeline feeds.
type Proc interface {
	Process(ctx context.Context, in *models.CycleInput) error
}

type pending struct {
	in       *models.CycleInput
	attempts int
}

// SnapshotPipeline sits between the feed and the cycle runner. It validates
// inputs, keeps at most one system cycle per symbol per min interval and
// buffers inputs whose processing failed for a bounded number of retries.
type SnapshotPipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	log      *logger.Logger
	validate *validator.Validate

	minInterval time.Duration
	bufSize     int
	retryMax    int
	limiter     *ratelimit.Limiter

	bufCh   chan pending
	stopCh  chan struct{}
	mu      sync.Mutex
	started bool
	now     func() time.Time
}

type PipelineOption func(*SnapshotPipeline)

// WithMinInterval sets the minimum spacing of system cycles per symbol.
// User-requested inputs are never spaced.
func WithMinInterval(d time.Duration) PipelineOption {
	return func(p *SnapshotPipeline) {
		p.minInterval = d
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *SnapshotPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithRetryMax(n int) PipelineOption {
	return func(p *SnapshotPipeline) {
		if n >= 0 {
			p.retryMax = n
		}
	}
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *SnapshotPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func NewSnapshotPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *SnapshotPipeline {
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	p := &SnapshotPipeline{
		proc:        proc,
		metrics:     metrics,
		log:         logger.Nop(),
		validate:    validator.New(),
		minInterval: time.Second,
		bufSize:     256,
		retryMax:    3,
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan pending, p.bufSize)
	if p.minInterval > 0 {
		p.limiter = ratelimit.New(1, 1/p.minInterval.Seconds())
	}
	return p
}

// Start launches the retry loop.
func (p *SnapshotPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.retryLoop(ctx)
}

func (p *SnapshotPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Process validates, spaces and forwards in. A downstream failure buffers the
// input for retry and is returned wrapped.
func (p *SnapshotPipeline) Process(ctx context.Context, in *models.CycleInput) error {
	start := p.now()
	if err := p.check(in); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !in.UserRequested && p.limiter != nil && !p.limiter.AllowAt(in.Snapshot.Symbol, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, in); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.enqueue(pending{in: in, attempts: 1})
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
	return nil
}

// Buffered returns the number of inputs waiting for retry.
func (p *SnapshotPipeline) Buffered() int { return len(p.bufCh) }

func (p *SnapshotPipeline) check(in *models.CycleInput) error {
	if in == nil {
		return fmt.Errorf("%w: nil", ErrInvalidInput)
	}
	if err := p.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if math.IsNaN(in.Snapshot.Price) || math.IsInf(in.Snapshot.Price, 0) {
		return fmt.Errorf("%w: price is not finite", ErrInvalidInput)
	}
	return nil
}

func (p *SnapshotPipeline) enqueue(item pending) {
	select {
	case p.bufCh <- item:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.log.Warn("retry buffer full, dropping input",
			logger.String("symbol", item.in.Snapshot.Symbol),
			logger.Int("buffer", p.bufSize),
		)
	}
}

func (p *SnapshotPipeline) retryLoop(ctx context.Context) {
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case item := <-p.bufCh:
			err := p.proc.Process(ctx, item.in)
			if err == nil {
				backoff = 50 * time.Millisecond
				continue
			}
			if item.attempts >= p.retryMax {
				p.metrics.RecordError("pipeline_retry_exhausted")
				p.log.Warn("dropping input after retries",
					logger.String("symbol", item.in.Snapshot.Symbol),
					logger.Int("attempts", item.attempts),
					logger.Error(err),
				)
				continue
			}
			item.attempts++
			if backoff < 2*time.Second {
				backoff *= 2
			}
			select {
			case <-time.After(backoff):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			p.enqueue(item)
		}
	}
}
