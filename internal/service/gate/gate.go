// Package gate is the single choke point in front of every costly external
// call. It runs ordered checks against a durable counter record and books the
// usage in the same guarded update, invokes the action outside its mutex and
// releases the booking when the action fails.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
	"GateKeeper/pkg/logger"
	"GateKeeper/pkg/util"
)

const (
	ceilingDaily   = "daily"
	ceilingUrgent  = "urgent"
	ceilingMonthly = "monthly"
)

type Gate struct {
	mu       sync.Mutex
	store    repository.GateStateStore
	notifier repository.Notifier
	cfg      Config
	specs    map[string]Spec
	last     *models.GateState
	log      *logger.Logger
	metrics  repository.Metrics
	now      func() time.Time
}

func New(store repository.GateStateStore, notifier repository.Notifier, cfg Config, log *logger.Logger, metrics repository.Metrics) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Gate{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		specs:    make(map[string]Spec),
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Register makes name available. Requests for unregistered gates are denied
// with NO_CAPABILITY.
func (g *Gate) Register(name string, spec Spec) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.specs[name] = spec
}

// Check runs the ordered checks without invoking anything or recording usage.
func (g *Gate) Check(ctx context.Context, req models.GateRequest) (dec models.GateDecision) {
	req.CallClass = models.ParseCallClass(string(req.CallClass))
	defer func() {
		if r := recover(); r != nil {
			dec = g.internal("check", req, r)
		}
		g.observe(req, dec)
	}()

	dec, notes, _ := g.admit(ctx, req, g.now(), false)
	g.send(ctx, notes)
	return dec
}

// Execute checks req and, when allowed, books its usage before invoking
// action. The action runs without the gate mutex held; a failure or panic
// releases the booking.
func (g *Gate) Execute(ctx context.Context, req models.GateRequest, action Action) (dec models.GateDecision) {
	req.CallClass = models.ParseCallClass(string(req.CallClass))
	var held *booking
	defer func() {
		if r := recover(); r != nil {
			if held != nil {
				g.release(ctx, req, held, false)
			}
			dec = g.internal("execute", req, r)
		}
		g.observe(req, dec)
	}()

	dec, notes, held := g.admit(ctx, req, g.now(), true)
	g.send(ctx, notes)
	if !dec.Allowed {
		return dec
	}

	start := g.now()
	result, err := action(ctx)
	if g.metrics != nil {
		g.metrics.RecordLatency("gate_"+req.Gate, g.now().Sub(start).Seconds())
	}
	b := held
	held = nil
	if err != nil {
		return g.failed(ctx, req, dec, b, err)
	}

	dec, notes = g.commit(ctx, dec, result)
	g.send(ctx, notes)
	return dec
}

// Status is a read-only view of the current period's counters.
type Status struct {
	State           *models.GateState `json:"state"`
	DailyCallsLeft  int               `json:"daily_calls_left"`
	DailyCostLeft   decimal.Decimal   `json:"daily_cost_left"`
	MonthlyCostLeft decimal.Decimal   `json:"monthly_cost_left"`
	UrgentCallsLeft int               `json:"urgent_calls_left"`
	BackoffActive   bool              `json:"backoff_active"`
	Gates           []string          `json:"gates"`
}

func (g *Gate) Status(ctx context.Context) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := g.load(ctx, now)
	dec := g.remaining(st)
	gates := make([]string, 0, len(g.specs))
	for name := range g.specs {
		gates = append(gates, name)
	}
	sort.Strings(gates)
	return Status{
		State:           st.Clone(),
		DailyCallsLeft:  dec.DailyCallsLeft,
		DailyCostLeft:   dec.DailyCostLeft,
		MonthlyCostLeft: dec.MonthlyCostLeft,
		UrgentCallsLeft: max(0, g.cfg.UrgentDailyCalls-st.UrgentCalls),
		BackoffActive:   now.Before(st.ErrorBlockUntil),
		Gates:           gates,
	}
}

// booking is the usage charged to the record when a call is admitted.
type booking struct {
	day, month string
	at         time.Time
	cost       decimal.Decimal
	urgent     bool
	audited    bool
	cooldown   string
	hash       string
}

func (g *Gate) admit(ctx context.Context, req models.GateRequest, now time.Time, reserve bool) (models.GateDecision, []string, *booking) {
	var (
		dec   models.GateDecision
		notes []string
		b     *booking
	)
	g.update(ctx, now, func(st *models.GateState) bool {
		dec = g.evaluate(ctx, st, req, now)
		switch dec.Reason {
		case models.ReasonDailyLimit:
			notes = g.mark(st, ceilingDaily, st.Day, notes, "daily budget exhausted for %s: %d calls, cost %s", st.Day, st.DailyCalls, st.DailyCost.StringFixed(2))
		case models.ReasonUrgentDailyLimit:
			notes = g.mark(st, ceilingUrgent, st.Day, notes, "urgent call cap reached for %s: %d calls", st.Day, st.UrgentCalls)
		case models.ReasonMonthlyLimit:
			notes = g.mark(st, ceilingMonthly, st.Month, notes, "monthly budget exhausted for %s: cost %s", st.Month, st.MonthlyCost.StringFixed(2))
		case models.ReasonOK:
			if len(dec.Warnings) > 0 {
				notes = g.mark(st, ceilingMonthly, st.Month, notes, "monthly budget exceeded by user request for %s: cost %s", st.Month, st.MonthlyCost.StringFixed(2))
			}
		}
		if dec.Allowed && reserve {
			b = g.book(st, req, now)
			return true
		}
		return len(notes) > 0
	})
	return dec, notes, b
}

// book charges req to st. Concurrent admissions see each other's bookings,
// so ceilings and dedup windows hold while actions are still running.
func (g *Gate) book(st *models.GateState, req models.GateRequest, now time.Time) *booking {
	b := &booking{
		day:     st.Day,
		month:   st.Month,
		at:      now,
		cost:    req.Cost,
		urgent:  req.CallClass == models.CallUrgentSystem,
		audited: req.Gate == g.cfg.AuditedGate,
	}
	st.DailyCalls++
	st.DailyCost = st.DailyCost.Add(req.Cost)
	st.MonthlyCost = st.MonthlyCost.Add(req.Cost)
	if b.urgent {
		st.UrgentCalls++
	}
	if b.audited {
		st.ScheduledCount++
	}
	if req.DedupKey != "" {
		b.cooldown = cooldownKey(req)
		st.Cooldowns[b.cooldown] = now
	}
	if key := hashKey(req); key != "" {
		b.hash = key
		st.EventHashes[key] = now
	}
	return b
}

// unbook reverses b. Counters from a period that has since rolled over are
// left alone, and stamps overwritten by a later booking are kept.
func unbook(st *models.GateState, b *booking) {
	if st.Day == b.day {
		st.DailyCalls = max(0, st.DailyCalls-1)
		st.DailyCost = decimal.Max(decimal.Zero, st.DailyCost.Sub(b.cost))
		if b.urgent {
			st.UrgentCalls = max(0, st.UrgentCalls-1)
		}
		if b.audited {
			st.ScheduledCount = max(0, st.ScheduledCount-1)
		}
	}
	if st.Month == b.month {
		st.MonthlyCost = decimal.Max(decimal.Zero, st.MonthlyCost.Sub(b.cost))
	}
	if at, ok := st.Cooldowns[b.cooldown]; ok && at.Equal(b.at) {
		delete(st.Cooldowns, b.cooldown)
	}
	if at, ok := st.EventHashes[b.hash]; ok && at.Equal(b.at) {
		delete(st.EventHashes, b.hash)
	}
}

// evaluate applies the checks in order; the first failure wins.
func (g *Gate) evaluate(ctx context.Context, st *models.GateState, req models.GateRequest, now time.Time) models.GateDecision {
	dec := g.remaining(st)
	class := req.CallClass
	cost := req.Cost

	spec, ok := g.specs[req.Gate]
	if !ok {
		return deny(dec, models.ReasonNoCapability, fmt.Sprintf("unknown gate %q", req.Gate), 0)
	}
	if spec.Capable != nil && !spec.Capable() {
		return deny(dec, models.ReasonNoCapability, req.Gate+" unavailable", 0)
	}

	if now.Before(st.ErrorBlockUntil) {
		return deny(dec, models.ReasonErrorBackoff, "upstream error backoff", st.ErrorBlockUntil.Sub(now))
	}

	if spec.Precondition != nil {
		if pass, why := spec.Precondition(ctx, req); !pass {
			return deny(dec, models.ReasonPrecondition, why, 0)
		}
	}

	if key := hashKey(req); key != "" {
		if at, seen := st.EventHashes[key]; seen {
			window := g.cfg.dupWindow(class)
			if elapsed := now.Sub(at); elapsed < window {
				return deny(dec, models.ReasonDuplicate, "situation seen "+elapsed.Truncate(time.Second).String()+" ago", window-elapsed)
			}
		}
	}

	if class == models.CallNormal && req.DedupKey != "" {
		cooldown := g.cooldownFor(spec)
		if at, ok := st.Cooldowns[cooldownKey(req)]; ok {
			if elapsed := now.Sub(at); elapsed < cooldown {
				return deny(dec, models.ReasonCooldown, "cooldown active for "+req.DedupKey, cooldown-elapsed)
			}
		}
	}

	switch class {
	case models.CallNormal:
		untilTomorrow := util.NextDay(now, g.cfg.Location).Sub(now)
		if g.cfg.DailyCalls > 0 && st.DailyCalls >= g.cfg.DailyCalls {
			return deny(dec, models.ReasonDailyLimit, fmt.Sprintf("daily call cap %d reached", g.cfg.DailyCalls), untilTomorrow)
		}
		if g.cfg.DailyCost.IsPositive() && st.DailyCost.Add(cost).GreaterThan(g.cfg.DailyCost) {
			return deny(dec, models.ReasonDailyLimit, "daily cost ceiling "+g.cfg.DailyCost.StringFixed(2)+" reached", untilTomorrow)
		}
	case models.CallUrgentSystem:
		if g.cfg.UrgentDailyCalls > 0 && st.UrgentCalls >= g.cfg.UrgentDailyCalls {
			return deny(dec, models.ReasonUrgentDailyLimit, fmt.Sprintf("urgent call cap %d reached", g.cfg.UrgentDailyCalls),
				util.NextDay(now, g.cfg.Location).Sub(now))
		}
	}

	if g.cfg.MonthlyCost.IsPositive() && st.MonthlyCost.Add(cost).GreaterThan(g.cfg.MonthlyCost) {
		if class != models.CallUserInitiated {
			return deny(dec, models.ReasonMonthlyLimit, "monthly cost ceiling "+g.cfg.MonthlyCost.StringFixed(2)+" reached",
				util.NextMonth(now, g.cfg.Location).Sub(now))
		}
		g.log.Warn("user request exceeds monthly ceiling",
			logger.String("gate", req.Gate),
			logger.String("monthly_cost", st.MonthlyCost.String()),
			logger.String("ceiling", g.cfg.MonthlyCost.String()),
		)
		dec.Warnings = append(dec.Warnings, "monthly cost ceiling exceeded")
	}

	dec.Allowed = true
	dec.Reason = models.ReasonOK
	return dec
}

// commit sends the first-crossing notifications for a booked call whose
// action succeeded.
func (g *Gate) commit(ctx context.Context, dec models.GateDecision, result interface{}) (models.GateDecision, []string) {
	var (
		out   models.GateDecision
		notes []string
	)
	g.update(ctx, g.now(), func(st *models.GateState) bool {
		if g.cfg.DailyCalls > 0 && st.DailyCalls >= g.cfg.DailyCalls ||
			g.cfg.DailyCost.IsPositive() && st.DailyCost.GreaterThanOrEqual(g.cfg.DailyCost) {
			notes = g.mark(st, ceilingDaily, st.Day, notes, "daily budget reached for %s: %d calls, cost %s", st.Day, st.DailyCalls, st.DailyCost.StringFixed(2))
		}
		if g.cfg.UrgentDailyCalls > 0 && st.UrgentCalls >= g.cfg.UrgentDailyCalls {
			notes = g.mark(st, ceilingUrgent, st.Day, notes, "urgent call cap reached for %s: %d calls", st.Day, st.UrgentCalls)
		}
		if g.cfg.MonthlyCost.IsPositive() && st.MonthlyCost.GreaterThanOrEqual(g.cfg.MonthlyCost) {
			notes = g.mark(st, ceilingMonthly, st.Month, notes, "monthly budget reached for %s: cost %s", st.Month, st.MonthlyCost.StringFixed(2))
		}
		out = g.remaining(st)
		return len(notes) > 0
	})

	out.Allowed = true
	out.Executed = true
	out.Reason = models.ReasonOK
	out.Warnings = dec.Warnings
	out.Result = result
	return out, notes
}

// failed releases the booking of a call whose action returned err. Failed
// calls report Allowed=false. Overload-shaped errors also open the backoff.
func (g *Gate) failed(ctx context.Context, req models.GateRequest, dec models.GateDecision, b *booking, err error) models.GateDecision {
	var overload *models.OverloadError
	backoff := errors.As(err, &overload) && g.cfg.ErrorBackoff > 0
	until := g.release(ctx, req, b, backoff)

	dec.Allowed = false
	dec.Executed = false
	dec.Reason = models.ReasonActionFailed
	dec.Message = err.Error()
	if !backoff {
		g.log.Warn("gated action failed", logger.String("gate", req.Gate), logger.Error(err))
		return dec
	}

	dec.RetryAfter = g.cfg.ErrorBackoff
	g.log.Warn("upstream overloaded, error backoff opened",
		logger.String("gate", req.Gate),
		logger.Int("status", overload.StatusCode),
		logger.Time("until", until),
	)
	return dec
}

func (g *Gate) release(ctx context.Context, req models.GateRequest, b *booking, backoff bool) time.Time {
	var until time.Time
	now := g.now()
	g.update(ctx, now, func(st *models.GateState) bool {
		if b != nil {
			unbook(st, b)
		}
		if backoff {
			st.ErrorBlockUntil = now.Add(g.cfg.ErrorBackoff)
			until = st.ErrorBlockUntil
		}
		return true
	})
	return until
}

// update runs fn on the freshest record with g.mu and the store guard held
// and saves the record when fn returns true. When the store cannot be read,
// fn runs on the last known state and the result stays in memory.
func (g *Gate) update(ctx context.Context, now time.Time, fn func(st *models.GateState) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	applied := false
	err := g.store.Update(ctx, func(cur *models.GateState, loadErr error) (*models.GateState, error) {
		applied = true
		if loadErr != nil {
			g.log.Warn("gate state malformed, resetting", logger.Error(loadErr))
			g.recordError("gate_state_malformed")
			cur = nil
		}
		st := g.normalize(cur, now)
		write := fn(st)
		if write {
			g.prune(st, now)
		}
		g.last = st.Clone()
		if !write {
			return nil, nil
		}
		return st, nil
	})
	switch {
	case err == nil:
	case applied:
		g.log.Warn("gate state save failed", logger.Error(err))
		g.recordError("gate_state_save")
	default:
		g.log.Warn("gate state unavailable, using last known", logger.Error(err))
		g.recordError("gate_state_load")
		st := g.normalize(g.last.Clone(), now)
		if fn(st) {
			g.prune(st, now)
		}
		g.last = st.Clone()
	}
}

// load reads the record for Status. It never fails: a store error falls back
// to the last known state and malformed state restarts from zero.
func (g *Gate) load(ctx context.Context, now time.Time) *models.GateState {
	st, err := g.store.Load(ctx)
	switch {
	case errors.Is(err, repository.ErrMalformedState):
		g.log.Warn("gate state malformed, resetting", logger.Error(err))
		g.recordError("gate_state_malformed")
		st = nil
	case err != nil:
		g.log.Warn("gate state unavailable, using last known", logger.Error(err))
		g.recordError("gate_state_load")
		st = g.last.Clone()
	}
	return g.normalize(st, now)
}

// normalize fills missing maps and applies day and month rollover.
func (g *Gate) normalize(st *models.GateState, now time.Time) *models.GateState {
	p := util.PeriodOf(now, g.cfg.Location)
	if st == nil {
		return models.NewGateState(p.Day, p.Month)
	}
	if st.Cooldowns == nil {
		st.Cooldowns = make(map[string]time.Time)
	}
	if st.EventHashes == nil {
		st.EventHashes = make(map[string]time.Time)
	}
	if st.Notified == nil {
		st.Notified = make(map[string]bool)
	}
	if st.Day != p.Day {
		st.Day = p.Day
		st.DailyCalls = 0
		st.DailyCost = decimal.Zero
		st.UrgentCalls = 0
		st.ScheduledCount = 0
	}
	if st.Month != p.Month {
		st.Month = p.Month
		st.MonthlyCost = decimal.Zero
	}
	return st
}

// prune drops cooldown and hash stamps that can no longer deny anything and
// notification marks from past periods.
func (g *Gate) prune(st *models.GateState, now time.Time) {
	longest := g.cfg.Cooldown
	for _, spec := range g.specs {
		if spec.Cooldown > longest {
			longest = spec.Cooldown
		}
	}
	for k, at := range st.Cooldowns {
		if now.Sub(at) >= longest {
			delete(st.Cooldowns, k)
		}
	}
	window := g.cfg.maxDupWindow()
	for k, at := range st.EventHashes {
		if now.Sub(at) >= window {
			delete(st.EventHashes, k)
		}
	}
	for k := range st.Notified {
		if !strings.HasSuffix(k, ":"+st.Day) && !strings.HasSuffix(k, ":"+st.Month) {
			delete(st.Notified, k)
		}
	}
}

// mark flags a ceiling as notified for period and appends the message the
// first time only.
func (g *Gate) mark(st *models.GateState, ceiling, period string, notes []string, format string, args ...interface{}) []string {
	key := ceiling + ":" + period
	if st.Notified[key] {
		return notes
	}
	st.Notified[key] = true
	return append(notes, fmt.Sprintf(format, args...))
}

func (g *Gate) send(ctx context.Context, notes []string) {
	for _, text := range notes {
		g.log.Warn("budget ceiling", logger.String("message", text))
		if g.notifier == nil {
			continue
		}
		if err := g.notifier.Notify(ctx, text); err != nil {
			g.log.Warn("notify failed", logger.Error(err))
		}
	}
}

func (g *Gate) remaining(st *models.GateState) models.GateDecision {
	return models.GateDecision{
		DailyCallsLeft:  max(0, g.cfg.DailyCalls-st.DailyCalls),
		DailyCostLeft:   decimal.Max(decimal.Zero, g.cfg.DailyCost.Sub(st.DailyCost)),
		MonthlyCostLeft: decimal.Max(decimal.Zero, g.cfg.MonthlyCost.Sub(st.MonthlyCost)),
	}
}

func (g *Gate) cooldownFor(spec Spec) time.Duration {
	if spec.Cooldown > 0 {
		return spec.Cooldown
	}
	return g.cfg.Cooldown
}

func (g *Gate) internal(op string, req models.GateRequest, r interface{}) models.GateDecision {
	g.log.Error("gate failure",
		logger.String("op", op),
		logger.String("gate", req.Gate),
		logger.Any("panic", r),
	)
	g.recordError("gate_internal")
	return models.GateDecision{Reason: models.ReasonInternal, Message: fmt.Sprint(r)}
}

func (g *Gate) observe(req models.GateRequest, dec models.GateDecision) {
	if !dec.Allowed {
		g.log.Debug("gate denied",
			logger.String("gate", req.Gate),
			logger.String("class", string(req.CallClass)),
			logger.String("reason", string(dec.Reason)),
			logger.String("message", dec.Message),
		)
	}
	if g.metrics != nil {
		g.metrics.RecordGateDecision(req.Gate, string(req.CallClass), string(dec.Reason), dec.Allowed)
	}
}

func (g *Gate) recordError(kind string) {
	if g.metrics != nil {
		g.metrics.RecordError(kind)
	}
}

func deny(dec models.GateDecision, reason models.GateReason, msg string, retry time.Duration) models.GateDecision {
	dec.Allowed = false
	dec.Reason = reason
	dec.Message = msg
	dec.RetryAfter = retry
	return dec
}

// hashKey scopes the situation identity by class so a user request does not
// collide with the automatic call for the same situation.
func hashKey(req models.GateRequest) string {
	h := req.EventHash
	if h == "" {
		h = req.DedupKey
	}
	if h == "" {
		return ""
	}
	return string(req.CallClass) + "|" + req.Gate + "|" + h
}

func cooldownKey(req models.GateRequest) string {
	return req.Gate + "|" + req.DedupKey
}
