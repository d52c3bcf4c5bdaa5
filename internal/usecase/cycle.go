package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"GateKeeper/internal/domain/models"
	domrepo "GateKeeper/internal/domain/repository"
	domsvc "GateKeeper/internal/domain/service"
	"GateKeeper/internal/service/cache"
	"GateKeeper/internal/service/event"
	"GateKeeper/internal/service/gate"
	"GateKeeper/internal/service/lock"
	"GateKeeper/internal/service/regime"
	pkgcache "GateKeeper/pkg/cache"
	"GateKeeper/pkg/logger"
	pkgmetrics "GateKeeper/pkg/metrics"
)

// Cycle stages, in the order a snapshot can reach them.
const (
	StageIdle       = "idle"
	StageLocked     = "locked"
	StageSuppressed = "suppressed"
	StageGated      = "gated"
	StageAnalyzed   = "analyzed"
	StageOrdered    = "ordered"
)

// AnalysisGate is the gate name every analysis call goes through.
const AnalysisGate = "analysis"

type CycleConfig struct {
	Owner        string
	EventLockTTL time.Duration
	// UserLockTTL holds user-requested runs only as long as the gate's user
	// request window, so a later request for the same situation goes through.
	UserLockTTL  time.Duration
	AnalysisCost decimal.Decimal
	// LatestTTL is how long the last snapshot of a symbol stays usable for
	// scheduled analysis.
	LatestTTL  time.Duration
	MaxSymbols int
}

// CycleOutcome is the trace of one TriggerCycle run.
type CycleOutcome struct {
	Symbol      string                    `json:"symbol"`
	Stage       string                    `json:"stage"`
	Regime      models.RegimeResult       `json:"regime"`
	Event       models.EventDecision      `json:"event"`
	Lock        *models.LockInfo          `json:"lock,omitempty"`
	Gate        *models.GateDecision      `json:"gate,omitempty"`
	Analysis    *models.AnalysisResult    `json:"analysis,omitempty"`
	Suppression *models.SuppressionResult `json:"suppression,omitempty"`
	Order       *OrderResult              `json:"order,omitempty"`
}

// CycleRunner wires the per-snapshot decision chain: regime, event
// detection, event lock, suppression, gated analysis and the order guard.
type CycleRunner struct {
	cfg      CycleConfig
	regimes  *regime.Registry
	detector *event.Detector
	locks    *lock.Manager
	gate     *gate.Gate
	analyzer domsvc.Analyzer
	guard    *OrderGuard
	log      *logger.Logger
	metrics  domrepo.Metrics

	prev   *cache.TTLCache[models.PrevScores]
	latest *cache.TTLCache[models.CycleInput]
	now    func() time.Time
}

func NewCycleRunner(
	cfg CycleConfig,
	regimes *regime.Registry,
	detector *event.Detector,
	locks *lock.Manager,
	g *gate.Gate,
	analyzer domsvc.Analyzer,
	guard *OrderGuard,
	l *logger.Logger,
	metrics domrepo.Metrics,
) *CycleRunner {
	if l == nil {
		l = logger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = time.Hour
	}
	if cfg.UserLockTTL <= 0 {
		cfg.UserLockTTL = time.Minute
	}
	return &CycleRunner{
		cfg:      cfg,
		regimes:  regimes,
		detector: detector,
		locks:    locks,
		gate:     g,
		analyzer: analyzer,
		guard:    guard,
		log:      l.With("cycle"),
		metrics:  metrics,
		prev:     cache.NewTTLCache[models.PrevScores](cfg.MaxSymbols),
		latest:   cache.NewTTLCache[models.CycleInput](cfg.MaxSymbols),
		now:      time.Now,
	}
}

// Process satisfies the snapshot pipeline's processor contract.
func (r *CycleRunner) Process(ctx context.Context, in *models.CycleInput) error {
	if in == nil {
		return fmt.Errorf("cycle input is nil")
	}
	r.Run(ctx, *in)
	return nil
}

// Run executes one TriggerCycle. Every denial is recorded in the outcome;
// the chain stops at the first stage that declines.
func (r *CycleRunner) Run(ctx context.Context, in models.CycleInput) CycleOutcome {
	start := r.now()
	now := in.Snapshot.At
	if now.IsZero() {
		now = start
	}
	snap := in.Snapshot
	out := CycleOutcome{Symbol: snap.Symbol, Stage: StageIdle}
	defer func() {
		r.metrics.RecordLatency("cycle", r.now().Sub(start).Seconds())
	}()

	out.Regime = r.regimes.Classify(snap, now)

	prev, _ := r.prev.Get(snap.Symbol, now)
	r.prev.Set(snap.Symbol, models.PrevScores{VolRatio: snap.VolRatio}, r.cfg.LatestTTL, now)
	r.latest.Set(snap.Symbol, in, r.cfg.LatestTTL, now)

	out.Event = r.detector.Evaluate(snap, prev, in.Position, models.EvalContext{Now: now, UserRequested: in.UserRequested})
	if !out.Event.Actionable() {
		return out
	}

	lockKey := pkgcache.GenerateKeyWithParams("event", snap.Symbol, out.Event.EventHash)
	ttl := r.cfg.EventLockTTL
	if out.Event.Mode == models.ModeUser {
		ttl = r.cfg.UserLockTTL
	}
	acquired, info := r.locks.Acquire(ctx, lockKey, ttl, r.cfg.Owner, models.LockKindEvent, string(out.Event.Mode))
	if !acquired {
		out.Stage = StageLocked
		out.Lock = &info
		r.log.Debug("event held by another process",
			logger.String("symbol", snap.Symbol),
			logger.String("holder", info.Holder),
			logger.Duration("remaining_ms", info.Remaining),
		)
		return out
	}

	// a repeated no-trade streak only silences system-initiated event calls
	if out.Event.Mode == models.ModeEvent {
		if suppressed, sinfo := r.locks.IsSuppressed(ctx, snap.Symbol); suppressed {
			out.Stage = StageSuppressed
			out.Lock = &sinfo
			return out
		}
	}

	req := models.GateRequest{
		Gate:      AnalysisGate,
		DedupKey:  snap.Symbol,
		EventHash: out.Event.EventHash,
		CallClass: out.Event.CallClass,
		Cost:      r.cfg.AnalysisCost,
	}
	areq := models.AnalysisRequest{
		Symbol:    snap.Symbol,
		Mode:      out.Event.Mode,
		Regime:    out.Regime.Class,
		Triggers:  out.Event.Triggers,
		EventHash: out.Event.EventHash,
		Snapshot:  snap,
		Position:  in.Position,
		At:        now,
	}
	dec := r.analyze(ctx, req, areq)
	out.Gate = &dec
	if !dec.Executed {
		out.Stage = StageGated
		return out
	}
	out.Stage = StageAnalyzed
	res, _ := dec.Result.(*models.AnalysisResult)
	out.Analysis = res
	if res == nil {
		return out
	}

	sup := r.locks.RecordRepeatedOutcome(ctx, snap.Symbol, res.Outcome, string(out.Regime.Class), r.cfg.Owner)
	out.Suppression = &sup

	if out.Event.Mode == models.ModeEmergency {
		r.detector.MarkEmergencyExecuted(snap.Symbol, now)
	}

	if intent, ok := IntentFrom(res, in.Position, out.Event.EventHash); ok && r.guard != nil {
		intent.At = now
		order := r.guard.Submit(ctx, intent)
		out.Order = &order
		if order.Accepted {
			out.Stage = StageOrdered
		}
	}

	r.log.Info("cycle analyzed",
		logger.String("symbol", snap.Symbol),
		logger.String("mode", string(out.Event.Mode)),
		logger.String("regime", string(out.Regime.Class)),
		logger.String("outcome", res.Outcome),
		logger.String("stage", out.Stage),
	)
	return out
}

// RunScheduled sends the latest snapshot of symbol through the analysis gate
// as a NORMAL call. It returns false when no recent snapshot is known.
func (r *CycleRunner) RunScheduled(ctx context.Context, symbol string) (models.GateDecision, bool) {
	now := r.now()
	in, ok := r.latest.Get(symbol, now)
	if !ok {
		return models.GateDecision{}, false
	}
	st, _ := r.regimes.Current(symbol)
	req := models.GateRequest{
		Gate:      AnalysisGate,
		DedupKey:  pkgcache.GenerateKey("scheduled", symbol),
		CallClass: models.CallNormal,
		Cost:      r.cfg.AnalysisCost,
	}
	areq := models.AnalysisRequest{
		Symbol:   symbol,
		Mode:     models.ModeDefault,
		Regime:   st.Current,
		Snapshot: in.Snapshot,
		Position: in.Position,
		At:       now,
	}
	return r.analyze(ctx, req, areq), true
}

// RequestAnalysis runs a user-initiated analysis for symbol using the latest
// snapshot, or snap when given.
func (r *CycleRunner) RequestAnalysis(ctx context.Context, symbol string, snap *models.FeatureSnapshot, pos *models.Position) (CycleOutcome, error) {
	in := models.CycleInput{UserRequested: true, Position: pos}
	switch {
	case snap != nil:
		in.Snapshot = *snap
	default:
		latest, ok := r.latest.Get(symbol, r.now())
		if !ok {
			return CycleOutcome{}, fmt.Errorf("no recent snapshot for %s", symbol)
		}
		in.Snapshot = latest.Snapshot
		in.Snapshot.At = time.Time{}
		if pos == nil {
			in.Position = latest.Position
		}
	}
	in.Snapshot.Symbol = symbol
	return r.Run(ctx, in), nil
}

// Prune drops stale per-symbol state of the runner and the detector.
func (r *CycleRunner) Prune() int {
	now := r.now()
	return r.prev.Prune(now) + r.latest.Prune(now) + r.detector.Prune(now)
}

func (r *CycleRunner) analyze(ctx context.Context, req models.GateRequest, areq models.AnalysisRequest) models.GateDecision {
	return r.gate.Execute(ctx, req, func(ctx context.Context) (interface{}, error) {
		return r.analyzer.Analyze(ctx, areq)
	})
}
