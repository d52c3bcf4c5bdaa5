package lock

import (
	"context"
	"fmt"
	"time"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
	"GateKeeper/pkg/cache"
	"GateKeeper/pkg/logger"
)

const suppressPrefix = "suppress"

type Config struct {
	SuppressThreshold int
	SuppressTTL       time.Duration
	// StoreTimeout bounds each store round-trip; a slow store counts as failed.
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{SuppressThreshold: 3, SuppressTTL: 30 * time.Minute, StoreTimeout: 2 * time.Second}
}

// Manager provides best-effort mutual exclusion over a shared LockStore.
// Check-then-upsert is not atomic: two processes may both acquire in a race.
// Store failures fail open, so the lock only ever reduces noise.
type Manager struct {
	store    repository.LockStore
	notifier repository.Notifier
	cfg      Config
	log      *logger.Logger
	metrics  repository.Metrics
	now      func() time.Time
}

func NewManager(store repository.LockStore, notifier repository.Notifier, cfg Config, log *logger.Logger, metrics repository.Metrics) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Acquire takes key for ttl unless a live record exists. On store error it
// returns true with Degraded set.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration, owner, kind, detail string) (bool, models.LockInfo) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	mine := models.LockInfo{Key: key, Holder: owner, Kind: kind, Detail: detail, Remaining: ttl}

	rec, err := m.store.Get(ctx, key)
	if err != nil {
		m.degraded("acquire", key, err)
		m.record(kind, "degraded")
		mine.Degraded = true
		return true, mine
	}

	now := m.now()
	if rec.Live(now) {
		m.record(kind, "held")
		return false, models.LockInfo{
			Key:       key,
			Holder:    rec.Owner,
			Kind:      rec.Kind,
			Detail:    rec.Detail,
			Remaining: rec.ExpiresAt.Sub(now),
		}
	}

	next := &models.LockRecord{Key: key, Owner: owner, Kind: kind, Detail: detail, ExpiresAt: now.Add(ttl)}
	if err := m.store.Upsert(ctx, next, ttl); err != nil {
		m.degraded("acquire", key, err)
		m.record(kind, "degraded")
		mine.Degraded = true
		return true, mine
	}
	m.record(kind, "acquired")
	return true, mine
}

// IsLocked reports whether a live record exists. Store errors read as unlocked.
func (m *Manager) IsLocked(ctx context.Context, key string) (bool, models.LockInfo) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	rec, err := m.store.Get(ctx, key)
	if err != nil {
		m.degraded("is_locked", key, err)
		return false, models.LockInfo{Key: key, Degraded: true}
	}
	now := m.now()
	if !rec.Live(now) {
		return false, models.LockInfo{Key: key}
	}
	return true, models.LockInfo{
		Key:       key,
		Holder:    rec.Owner,
		Kind:      rec.Kind,
		Detail:    rec.Detail,
		Remaining: rec.ExpiresAt.Sub(now),
	}
}

// Release deletes key if owner still holds it.
func (m *Manager) Release(ctx context.Context, key, owner string) bool {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	rec, err := m.store.Get(ctx, key)
	if err != nil {
		m.degraded("release", key, err)
		return false
	}
	if rec == nil || rec.Owner != owner {
		return false
	}
	if err := m.store.Delete(ctx, key); err != nil {
		m.degraded("release", key, err)
		return false
	}
	m.record(rec.Kind, "released")
	return true
}

// CleanupExpired garbage-collects expired records. Safe to run from every process.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	n, err := m.store.DeleteExpired(ctx)
	if err != nil {
		m.degraded("cleanup", "*", err)
		return 0
	}
	if n > 0 {
		m.log.Debug("expired locks removed", logger.Int64("count", n))
	}
	return int(n)
}

// RecordRepeatedOutcome bumps the consecutive streak for scope. The streak
// restarts whenever outcome or key changes. Reaching the threshold creates a
// suppress:<scope> lock and notifies once, when that lock is newly created.
func (m *Manager) RecordRepeatedOutcome(ctx context.Context, scope, outcome, key, owner string) models.SuppressionResult {
	res := models.SuppressionResult{Scope: scope}
	tag := outcome + "|" + key

	sctx, cancel := m.storeCtx(ctx)
	counter, err := m.store.BumpStreak(sctx, scope, tag, owner)
	cancel()
	if err != nil {
		m.degraded("streak", scope, err)
		res.Degraded = true
		return res
	}
	res.Count = counter.ConsecutiveCount

	if m.cfg.SuppressThreshold <= 0 || res.Count < m.cfg.SuppressThreshold {
		return res
	}

	detail := fmt.Sprintf("%d consecutive %s", res.Count, tag)
	acquired, info := m.Acquire(ctx, cache.GenerateKey(suppressPrefix, scope), m.cfg.SuppressTTL, owner, models.LockKindSuppression, detail)
	res.Suppressed = true
	if !acquired || info.Degraded {
		res.Degraded = info.Degraded
		return res
	}
	res.Created = true

	// the suppression lock now carries the streak
	rctx, rcancel := m.storeCtx(ctx)
	if err := m.store.ResetStreak(rctx, scope); err != nil {
		m.degraded("streak_reset", scope, err)
	}
	rcancel()

	m.log.Info("suppression created",
		logger.String("scope", scope),
		logger.String("outcome", tag),
		logger.Int("count", res.Count),
		logger.Duration("ttl_ms", m.cfg.SuppressTTL),
	)
	m.notify(ctx, fmt.Sprintf("Suppressing %s for %s after %d consecutive %q outcomes",
		scope, m.cfg.SuppressTTL, res.Count, outcome))
	return res
}

// IsSuppressed reports whether scope has a live suppression lock.
func (m *Manager) IsSuppressed(ctx context.Context, scope string) (bool, models.LockInfo) {
	return m.IsLocked(ctx, cache.GenerateKey(suppressPrefix, scope))
}

func (m *Manager) notify(ctx context.Context, text string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, text); err != nil {
		m.log.Warn("notify failed", logger.Error(err))
	}
}

func (m *Manager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.StoreTimeout)
}

func (m *Manager) degraded(op, key string, err error) {
	m.log.Warn("lock store unavailable, failing open",
		logger.String("op", op),
		logger.String("key", key),
		logger.Error(err),
	)
	if m.metrics != nil {
		m.metrics.RecordError("lock_store_" + op)
	}
}

func (m *Manager) record(kind, outcome string) {
	if m.metrics != nil {
		m.metrics.RecordLock(kind, outcome)
	}
}
