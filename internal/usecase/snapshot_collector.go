package usecase

import (
	"context"
	"time"

	"GateKeeper/internal/domain/models"
	domrepo "GateKeeper/internal/domain/repository"
	"GateKeeper/internal/middleware"
	"GateKeeper/pkg/logger"
	pkgmetrics "GateKeeper/pkg/metrics"
)

// SnapshotCollector reads a SnapshotStream into the pipeline and reconnects
// the stream on read errors.
type SnapshotCollector struct {
	stream         domrepo.SnapshotStream
	pipe           *middleware.SnapshotPipeline
	metrics        domrepo.Metrics
	log            *logger.Logger
	reconnectDelay time.Duration
}

func NewSnapshotCollector(stream domrepo.SnapshotStream, pipe *middleware.SnapshotPipeline, metrics domrepo.Metrics, l *logger.Logger) *SnapshotCollector {
	if l == nil {
		l = logger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &SnapshotCollector{
		stream:         stream,
		pipe:           pipe,
		metrics:        metrics,
		log:            l.With("snapshot_collector"),
		reconnectDelay: 5 * time.Second,
	}
}

func (c *SnapshotCollector) IsConnected() bool { return c.stream.IsConnected() }

func (c *SnapshotCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	inCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, inCh, errCh)
	return nil
}

func (c *SnapshotCollector) consume(ctx context.Context, inCh <-chan *models.CycleInput, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			c.metrics.RecordError("stream")
			c.log.Warn("snapshot stream error", logger.Error(err))
			inCh, errCh = c.reconnect(ctx)
			if inCh == nil {
				return
			}
		case in, ok := <-inCh:
			if !ok {
				inCh, errCh = c.reconnect(ctx)
				if inCh == nil {
					return
				}
				continue
			}
			if err := c.pipe.Process(ctx, in); err != nil {
				c.log.Debug("snapshot not processed",
					logger.String("symbol", in.Snapshot.Symbol),
					logger.Error(err),
				)
			}
		}
	}
}

// reconnect retries until the stream is back or ctx ends, then starts a new read.
func (c *SnapshotCollector) reconnect(ctx context.Context) (<-chan *models.CycleInput, <-chan error) {
	for {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			c.log.Info("snapshot stream reconnected")
			return c.stream.Read(ctx)
		}
		c.log.Warn("reconnect failed", logger.Error(err))
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *SnapshotCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}
