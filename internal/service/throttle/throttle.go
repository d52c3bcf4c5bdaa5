package throttle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
	"GateKeeper/internal/service/ratelimit"
	"GateKeeper/pkg/logger"
)

const (
	ReasonHalted         = "halted"
	ReasonLocked         = "entry_lock"
	ReasonHourly         = "hourly"
	ReasonTenMinute      = "ten_minute"
	ReasonActionCooldown = "action_cooldown"
	ReasonAnyCooldown    = "any_cooldown"
)

const maxDuration = time.Duration(1<<63 - 1)

type Config struct {
	HourlyCap          int
	TenMinuteCap       int
	ActionCooldown     time.Duration
	AnyCooldown        time.Duration
	RateLimitLockout   time.Duration
	MinSizeBackoff     time.Duration
	PersistBackoffBase time.Duration
	PersistBackoffMax  time.Duration
	PersistHaltAfter   int
	NetworkBackoffBase time.Duration
	NetworkBackoffMax  time.Duration
}

// DefaultConfig keeps a margin under a broker limit of 15 orders per hour.
func DefaultConfig() Config {
	return Config{
		HourlyCap:          12,
		TenMinuteCap:       4,
		ActionCooldown:     2 * time.Minute,
		AnyCooldown:        20 * time.Second,
		RateLimitLockout:   time.Hour,
		MinSizeBackoff:     5 * time.Minute,
		PersistBackoffBase: 2 * time.Minute,
		PersistBackoffMax:  time.Hour,
		PersistHaltAfter:   3,
		NetworkBackoffBase: 5 * time.Second,
		NetworkBackoffMax:  5 * time.Minute,
	}
}

// Throttle protects the broker's own order limits. All state sits behind
// one mutex; the attempt log and notifier are called outside it.
type Throttle struct {
	mu          sync.Mutex
	cfg         Config
	window      *ratelimit.Window
	lastAction  map[models.ActionType]time.Time
	lastAny     time.Time
	lockUntil   time.Time
	lockReason  string
	consecutive map[models.RejectionKind]int
	halted      bool
	haltReason  string

	attempts repository.AttemptLog
	notifier repository.Notifier
	log      *logger.Logger
	metrics  repository.Metrics
	now      func() time.Time
	warm     sync.Once
}

func New(cfg Config, attempts repository.AttemptLog, notifier repository.Notifier, log *logger.Logger, metrics repository.Metrics) *Throttle {
	if log == nil {
		log = logger.Nop()
	}
	return &Throttle{
		cfg:         cfg,
		window:      ratelimit.NewWindow(time.Hour),
		lastAction:  make(map[models.ActionType]time.Time),
		consecutive: make(map[models.RejectionKind]int),
		attempts:    attempts,
		notifier:    notifier,
		log:         log,
		metrics:     metrics,
		now:         time.Now,
	}
}

// CheckAll decides whether an order of type action may be sent now. Exit
// actions always pass.
func (t *Throttle) CheckAll(action models.ActionType) models.CheckResult {
	if action.IsExit() {
		t.record(action, "bypass")
		return models.CheckResult{OK: true}
	}

	t.mu.Lock()
	res := t.check(action, t.now())
	t.mu.Unlock()

	outcome := "ok"
	if !res.OK {
		outcome = strings.SplitN(res.Reason, ":", 2)[0]
	}
	t.record(action, outcome)
	return res
}

func (t *Throttle) check(action models.ActionType, now time.Time) models.CheckResult {
	if t.halted {
		return models.CheckResult{Reason: ReasonHalted + ": " + t.haltReason}
	}
	if now.Before(t.lockUntil) {
		return models.CheckResult{Reason: ReasonLocked + ": " + t.lockReason, NextAllowed: t.lockUntil}
	}

	t.window.Trim(now)
	if n, oldest := t.window.CountWithin(now, time.Hour); n >= t.cfg.HourlyCap {
		return models.CheckResult{Reason: ReasonHourly, NextAllowed: oldest.Add(time.Hour)}
	}
	if n, oldest := t.window.CountWithin(now, 10*time.Minute); n >= t.cfg.TenMinuteCap {
		return models.CheckResult{Reason: ReasonTenMinute, NextAllowed: oldest.Add(10 * time.Minute)}
	}

	if last, ok := t.lastAction[action]; ok {
		if next := last.Add(t.cfg.ActionCooldown); now.Before(next) {
			return models.CheckResult{Reason: ReasonActionCooldown, NextAllowed: next}
		}
	}
	if !t.lastAny.IsZero() {
		if next := t.lastAny.Add(t.cfg.AnyCooldown); now.Before(next) {
			return models.CheckResult{Reason: ReasonAnyCooldown, NextAllowed: next}
		}
	}
	return models.CheckResult{OK: true}
}

// RecordAttempt counts an order sent to the broker and appends it to the
// durable log. Exits are counted too since the broker limit covers them.
func (t *Throttle) RecordAttempt(ctx context.Context, symbol string, action models.ActionType, status models.AttemptStatus) models.Attempt {
	a := models.Attempt{
		ID:     uuid.NewString(),
		Symbol: symbol,
		Action: action,
		At:     t.now(),
		Status: status,
	}

	t.mu.Lock()
	t.window.Add(a.At)
	t.lastAction[action] = a.At
	t.lastAny = a.At
	t.mu.Unlock()

	if t.attempts != nil {
		if err := t.attempts.Record(ctx, a); err != nil {
			t.log.Warn("attempt log write failed",
				logger.String("symbol", symbol),
				logger.String("action", string(action)),
				logger.Error(err),
			)
		}
	}
	return a
}

// HandleRejection classifies a broker rejection and applies its backoff.
// Lockouts only ever extend.
func (t *Throttle) HandleRejection(ctx context.Context, code, reason string) models.RejectionOutcome {
	kind := Classify(code, reason)
	now := t.now()

	t.mu.Lock()
	out := models.RejectionOutcome{Kind: kind}
	var backoff time.Duration
	switch kind {
	case models.RejectRateLimit:
		backoff = t.cfg.RateLimitLockout
	case models.RejectMinSize:
		backoff = t.cfg.MinSizeBackoff
	case models.RejectPersistence:
		t.consecutive[kind]++
		out.ConsecutiveErrors = t.consecutive[kind]
		backoff = exponential(t.cfg.PersistBackoffBase, out.ConsecutiveErrors, t.cfg.PersistBackoffMax)
	default:
		t.consecutive[kind]++
		out.ConsecutiveErrors = t.consecutive[kind]
		backoff = exponential(t.cfg.NetworkBackoffBase, out.ConsecutiveErrors, t.cfg.NetworkBackoffMax)
	}

	if until := now.Add(backoff); until.After(t.lockUntil) {
		t.lockUntil = until
		t.lockReason = fmt.Sprintf("%s: %s", kind, reason)
	}
	out.Backoff = backoff
	out.LockUntil = t.lockUntil

	haltedNow := false
	if kind == models.RejectPersistence && t.cfg.PersistHaltAfter > 0 &&
		out.ConsecutiveErrors >= t.cfg.PersistHaltAfter && !t.halted {
		t.halted = true
		t.haltReason = fmt.Sprintf("%d consecutive persistence errors: %s", out.ConsecutiveErrors, reason)
		haltedNow = true
	}
	out.Halted = t.halted
	t.mu.Unlock()

	t.log.Warn("order rejected",
		logger.String("kind", string(kind)),
		logger.String("code", code),
		logger.String("reason", reason),
		logger.Duration("backoff_ms", backoff),
		logger.Int("consecutive", out.ConsecutiveErrors),
	)
	t.record("rejection", string(kind))

	if haltedNow {
		t.log.Error("trading halted", logger.String("reason", reason), logger.Int("consecutive", out.ConsecutiveErrors))
		if t.notifier != nil {
			text := fmt.Sprintf("Trading halted after %d consecutive persistence errors (%s). Manual clearance required.", out.ConsecutiveErrors, reason)
			if err := t.notifier.Notify(ctx, text); err != nil {
				t.log.Warn("notify failed", logger.Error(err))
			}
		}
	}
	return out
}

// HandleSuccess resets the consecutive error counters. An active lockout stays.
func (t *Throttle) HandleSuccess(action models.ActionType) {
	t.mu.Lock()
	for k := range t.consecutive {
		delete(t.consecutive, k)
	}
	t.mu.Unlock()
	t.record(action, "success")
}

// ClearHalt lifts a persistence halt. The operator calls it after fixing the cause.
func (t *Throttle) ClearHalt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.halted
	t.halted = false
	t.haltReason = ""
	delete(t.consecutive, models.RejectPersistence)
	if was {
		t.log.Info("trading halt cleared")
	}
	return was
}

func (t *Throttle) Status() models.ThrottleStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.window.Trim(now)
	hour, _ := t.window.CountWithin(now, time.Hour)
	ten, _ := t.window.CountWithin(now, 10*time.Minute)

	last := make(map[string]time.Time, len(t.lastAction))
	for a, at := range t.lastAction {
		last[string(a)] = at
	}
	errs := make(map[string]int, len(t.consecutive))
	for k, n := range t.consecutive {
		errs[string(k)] = n
	}
	st := models.ThrottleStatus{
		AttemptsLastHour:  hour,
		Attempts10m:       ten,
		LastAction:        last,
		LastAny:           t.lastAny,
		ConsecutiveErrors: errs,
		Halted:            t.halted,
		HaltReason:        t.haltReason,
	}
	if now.Before(t.lockUntil) {
		st.EntryLockUntil = t.lockUntil
		st.LockReason = t.lockReason
	}
	return st
}

// WarmStart seeds the window from the attempt log so a restart does not
// forget the broker exposure of the last hour. Only the first call loads.
func (t *Throttle) WarmStart(ctx context.Context) {
	t.warm.Do(func() {
		if t.attempts == nil {
			return
		}
		now := t.now()
		list, err := t.attempts.Since(ctx, now.Add(-time.Hour))
		if err != nil {
			t.log.Warn("throttle warm start failed", logger.Error(err))
			return
		}

		t.mu.Lock()
		for _, a := range list {
			if a.At.After(now) {
				continue
			}
			t.window.Add(a.At)
			if a.At.After(t.lastAction[a.Action]) {
				t.lastAction[a.Action] = a.At
			}
			if a.At.After(t.lastAny) {
				t.lastAny = a.At
			}
		}
		t.mu.Unlock()

		t.log.Info("throttle warm started", logger.Int("attempts", len(list)))
	})
}

func (t *Throttle) record(action models.ActionType, outcome string) {
	if t.metrics != nil {
		t.metrics.RecordThrottle(string(action), outcome)
	}
}

// exponential returns base * 2^(n-1), capped at limit when limit > 0 and
// never past the largest Duration.
func exponential(base time.Duration, n int, limit time.Duration) time.Duration {
	if limit <= 0 {
		limit = maxDuration
	}
	d := base
	for i := 1; i < n && d < limit; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}
