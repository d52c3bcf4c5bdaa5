package usecase

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"GateKeeper/internal/service/lock"
	"GateKeeper/pkg/logger"
)

type SchedulerConfig struct {
	CleanupSpec  string
	AnalysisSpec string
	Symbols      []string
}

// Scheduler runs periodic housekeeping: expired lock cleanup, pruning of
// in-process state and, when configured, scheduled analysis per symbol.
// Every process runs its own; cleanup is idempotent across processes.
type Scheduler struct {
	cron   *cron.Cron
	cfg    SchedulerConfig
	locks  *lock.Manager
	runner *CycleRunner
	log    *logger.Logger
}

func NewScheduler(cfg SchedulerConfig, locks *lock.Manager, runner *CycleRunner, l *logger.Logger) (*Scheduler, error) {
	if l == nil {
		l = logger.Nop()
	}
	s := &Scheduler{cfg: cfg, locks: locks, runner: runner, log: l.With("scheduler")}
	cl := cronLogger{l: s.log}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if cfg.CleanupSpec != "" {
		if _, err := s.cron.AddFunc(cfg.CleanupSpec, func() { s.Cleanup(context.Background()) }); err != nil {
			return nil, fmt.Errorf("cleanup schedule %q: %w", cfg.CleanupSpec, err)
		}
	}
	if cfg.AnalysisSpec != "" && len(cfg.Symbols) > 0 {
		if _, err := s.cron.AddFunc(cfg.AnalysisSpec, func() { s.Analyze(context.Background()) }); err != nil {
			return nil, fmt.Errorf("analysis schedule %q: %w", cfg.AnalysisSpec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs", len(s.cron.Entries())))
}

// Stop stops scheduling and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup removes expired lock records and prunes in-process state.
func (s *Scheduler) Cleanup(ctx context.Context) int {
	n := s.locks.CleanupExpired(ctx)
	pruned := 0
	if s.runner != nil {
		pruned = s.runner.Prune()
	}
	s.log.Debug("cleanup done", logger.Int("locks", n), logger.Int("pruned", pruned))
	return n
}

// Analyze sends each configured symbol through the audited analysis gate.
func (s *Scheduler) Analyze(ctx context.Context) int {
	if s.runner == nil {
		return 0
	}
	executed := 0
	for _, sym := range s.cfg.Symbols {
		dec, ok := s.runner.RunScheduled(ctx, sym)
		if !ok {
			s.log.Debug("no recent snapshot", logger.String("symbol", sym))
			continue
		}
		if dec.Executed {
			executed++
		}
		s.log.Info("scheduled analysis",
			logger.String("symbol", sym),
			logger.String("reason", string(dec.Reason)),
			logger.Bool("executed", dec.Executed),
		)
	}
	return executed
}

// cronLogger adapts the zerolog wrapper to cron.Logger.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, kv(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(kv(keysAndValues), logger.Error(err))...)
}

func kv(keysAndValues []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
