package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GateKeeper/internal/middleware"
	"GateKeeper/internal/service/throttle"
	"GateKeeper/internal/usecase"
	"GateKeeper/pkg/config"
	xhttp "GateKeeper/pkg/http"
	pkgkafka "GateKeeper/pkg/kafka"
	"GateKeeper/pkg/logger"
)

type closer struct {
	name string
	c    io.Closer
}

// App owns the process lifecycle: feed, pipeline, scheduler, HTTP and the
// infrastructure clients they share.
type App struct {
	cfg       *config.Config
	log       *logger.Logger
	pipe      *middleware.SnapshotPipeline
	collector *usecase.SnapshotCollector
	consumer  *pkgkafka.Consumer
	kh        pkgkafka.MessageHandler
	scheduler *usecase.Scheduler
	throttle  *throttle.Throttle
	http      *xhttp.Server
	closers   []closer
}

// New creates the App. Exactly one of collector and consumer is expected,
// matching feed.source; a nil one is skipped.
func New(
	cfg *config.Config,
	l *logger.Logger,
	pipe *middleware.SnapshotPipeline,
	collector *usecase.SnapshotCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	scheduler *usecase.Scheduler,
	t *throttle.Throttle,
	httpServer *xhttp.Server,
) *App {
	if l == nil {
		l = logger.Nop()
	}
	return &App{
		cfg:       cfg,
		log:       l.With("app"),
		pipe:      pipe,
		collector: collector,
		consumer:  consumer,
		kh:        kh,
		scheduler: scheduler,
		throttle:  t,
		http:      httpServer,
	}
}

// AddCloser registers a client closed on shutdown, in reverse order of registration.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, closer{name: name, c: c})
	}
}

// Run starts everything and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	a.shutdown()
	return nil
}

func (a *App) start(ctx context.Context) error {
	if a.throttle != nil {
		a.throttle.WarmStart(ctx)
	}
	a.pipe.Start(ctx)

	switch {
	case a.collector != nil:
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("snapshot stream connect failed", logger.Error(err))
			return err
		}
		a.log.Info("websocket feed started", logger.Strings("symbols", a.cfg.WebSocket.Symbols))
	case a.consumer != nil && a.kh != nil:
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start failed", logger.Error(err))
			return err
		}
		a.log.Info("kafka feed started", logger.String("topic", a.kh.Topic()))
	default:
		a.log.Warn("no snapshot feed configured")
	}

	if a.scheduler != nil {
		a.scheduler.Start()
	}
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			return err
		}
	}
	return nil
}

// shutdown stops intake first so nothing new reaches the guards, then the
// rest. It uses a fresh context since the run context is already cancelled.
func (a *App) shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", logger.Error(err))
		}
	}
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", logger.Error(err))
		}
	}
	a.pipe.Stop()

	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.log.Warn("scheduler stop error", logger.Error(err))
		}
	}
	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", logger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	// flushes aggregated errors while the producer is still open
	a.log.RemoveCollector()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].c.Close(); err != nil {
			a.log.Warn("close error", logger.String("client", a.closers[i].name), logger.Error(err))
		}
	}
}
