package event

import (
	"fmt"
	"math"
	"sync"
	"time"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
	"GateKeeper/internal/service/cache"
	"GateKeeper/pkg/logger"
)

type zone int

const (
	zoneBelow zone = iota - 1
	zoneNear
	zoneAbove
)

type volBucket int

const (
	volLow volBucket = iota
	volNormal
	volHigh
)

func (b volBucket) String() string {
	switch b {
	case volLow:
		return "low"
	case volHigh:
		return "high"
	default:
		return "normal"
	}
}

// Detector turns snapshots into event decisions. Dedup stamps, level zones
// and emergency lockouts live in bounded expiring maps owned by the detector.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	log     *logger.Logger
	metrics repository.Metrics

	seen    *cache.TTLCache[time.Time]
	zones   *cache.TTLCache[zone]
	lockout *cache.TTLCache[time.Time]
}

func NewDetector(cfg Config, log *logger.Logger, metrics repository.Metrics) *Detector {
	if log == nil {
		log = logger.Nop()
	}
	return &Detector{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		seen:    cache.NewTTLCache[time.Time](cfg.MaxEntries),
		zones:   cache.NewTTLCache[zone](cfg.MaxEntries),
		lockout: cache.NewTTLCache[time.Time](cfg.MaxEntries),
	}
}

// Evaluate classifies one snapshot. It never panics; an internal failure
// yields DEFAULT with reason detector_error.
func (d *Detector) Evaluate(s models.FeatureSnapshot, prev models.PrevScores, pos *models.Position, ectx models.EvalContext) (dec models.EventDecision) {
	now := ectx.Now
	if now.IsZero() {
		now = s.At
	}
	if now.IsZero() {
		now = time.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event evaluation failed", logger.String("symbol", s.Symbol), logger.Any("panic", r))
			dec = d.finish(s, models.ModeDefault, nil, []string{"detector_error"}, now)
		}
		if d.metrics != nil {
			d.metrics.RecordEvent(dec.Symbol, string(dec.Mode))
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	var reasons []string
	locked, until := d.lockedOut(s.Symbol, now)

	signals, notes := d.emergencySignals(s, pos)
	reasons = append(reasons, notes...)
	if len(signals) > 0 {
		volumeRatio := models.Ratio(s.VolumeRatio)
		switch {
		case volumeRatio < d.cfg.VolumeConfirm:
			reasons = append(reasons, fmt.Sprintf("emergency_unconfirmed: volume_ratio=%.2f<%.2f", volumeRatio, d.cfg.VolumeConfirm))
		case d.inBox(s):
			reasons = append(reasons, "emergency_box_filtered")
		case locked:
			reasons = append(reasons, "emergency_lockout")
		default:
			return d.finish(s, models.ModeEmergency, signals, reasons, now)
		}
	}

	// zones advance every cycle so a break seen during lockout does not fire later
	triggers := d.eventTriggers(s, prev, now)

	if locked && !ectx.UserRequested {
		reasons = append(reasons, fmt.Sprintf("post_emergency_lockout until %s", until.Format(time.RFC3339)))
		return d.finish(s, models.ModeDefault, nil, reasons, now)
	}

	fresh := d.dedup(s.Symbol, triggers, now)
	if len(triggers) > 0 && len(fresh) == 0 {
		reasons = append(reasons, "deduped")
	}

	switch {
	case ectx.UserRequested:
		return d.finish(s, models.ModeUser, fresh, reasons, now)
	case len(fresh) > 0:
		return d.finish(s, models.ModeEvent, fresh, reasons, now)
	default:
		return d.finish(s, models.ModeDefault, nil, reasons, now)
	}
}

// MarkEmergencyExecuted starts the post-emergency lockout for symbol.
func (d *Detector) MarkEmergencyExecuted(symbol string, now time.Time) {
	if d.cfg.Lockout <= 0 {
		return
	}
	d.lockout.Set(symbol, now.Add(d.cfg.Lockout), d.cfg.Lockout, now)
	d.log.Info("emergency lockout started",
		logger.String("symbol", symbol),
		logger.Duration("lockout_ms", d.cfg.Lockout),
	)
}

// Prune drops expired dedup, zone and lockout entries.
func (d *Detector) Prune(now time.Time) int {
	return d.seen.Prune(now) + d.zones.Prune(now) + d.lockout.Prune(now)
}

func (d *Detector) finish(s models.FeatureSnapshot, mode models.EventMode, triggers []models.Trigger, reasons []string, now time.Time) models.EventDecision {
	dec := models.EventDecision{
		Symbol:    s.Symbol,
		Mode:      mode,
		Triggers:  triggers,
		Priority:  mode.Priority(),
		CallClass: mode.CallClass(),
		Reasons:   reasons,
		At:        now,
	}
	if mode != models.ModeDefault {
		dec.EventHash = SituationHash(s.Symbol, triggers, s.Price, now, d.cfg.PriceBucketPct, d.cfg.TimeBucket)
	}
	return dec
}

func (d *Detector) lockedOut(symbol string, now time.Time) (bool, time.Time) {
	until, ok := d.lockout.Get(symbol, now)
	return ok && now.Before(until), until
}

func (d *Detector) emergencySignals(s models.FeatureSnapshot, pos *models.Position) ([]models.Trigger, []string) {
	var signals []models.Trigger
	var notes []string

	if r := models.Num(s.Ret1m); math.Abs(r) >= d.cfg.ShortMove {
		signals = append(signals, models.Trigger{
			Type: models.TriggerEmergency, Name: "short_move",
			Value: r, Threshold: d.cfg.ShortMove, Direction: direction(r),
		})
	}
	if pos != nil {
		if adverse := pos.AdverseMove(s.Price); adverse >= d.cfg.AdverseMove {
			dir := models.DirectionDown
			if pos.Side == models.SideShort {
				dir = models.DirectionUp
			}
			signals = append(signals, models.Trigger{
				Type: models.TriggerEmergency, Name: "adverse_move",
				Value: adverse, Threshold: d.cfg.AdverseMove, Direction: dir,
			})
		}
		if liq := models.Num(pos.LiqDistance); liq > 0 && liq <= d.cfg.LiqDistance {
			signals = append(signals, models.Trigger{
				Type: models.TriggerEmergency, Name: "liq_distance",
				Value: liq, Threshold: d.cfg.LiqDistance,
			})
		}
	}
	if v := models.Ratio(s.VolRatio); v >= d.cfg.VolSurge {
		signals = append(signals, models.Trigger{
			Type: models.TriggerEmergency, Name: "vol_surge",
			Value: v, Threshold: d.cfg.VolSurge, Direction: models.DirectionUp,
		})
	}
	for _, sig := range signals {
		notes = append(notes, fmt.Sprintf("signal %s=%.4f", sig.Name, sig.Value))
	}
	return signals, notes
}

// inBox reports a tight, quiet market. Missing band width never counts as a box.
func (d *Detector) inBox(s models.FeatureSnapshot) bool {
	bw := models.Num(s.BandWidth)
	return bw > 0 && bw < d.cfg.BoxBandWidth && math.Abs(models.Num(s.Ret5m)) < d.cfg.BoxMove
}

func (d *Detector) eventTriggers(s models.FeatureSnapshot, prev models.PrevScores, now time.Time) []models.Trigger {
	var out []models.Trigger

	horizons := []struct {
		name string
		v    float64
		thr  float64
	}{
		{"1m", s.Ret1m, d.cfg.Ret1m},
		{"5m", s.Ret5m, d.cfg.Ret5m},
		{"15m", s.Ret15m, d.cfg.Ret15m},
		{"1h", s.Ret1h, d.cfg.Ret1h},
	}
	for _, h := range horizons {
		v := models.Num(h.v)
		if h.thr > 0 && math.Abs(v) >= h.thr {
			out = append(out, models.Trigger{
				Type: models.TriggerReturnSpike, Name: h.name,
				Value: v, Threshold: h.thr, Direction: direction(v),
			})
		}
	}

	if v := models.Ratio(s.VolumeRatio); v >= d.cfg.VolumeSpike {
		out = append(out, models.Trigger{
			Type: models.TriggerVolumeSpike, Value: v, Threshold: d.cfg.VolumeSpike, Direction: models.DirectionUp,
		})
	}

	out = append(out, d.levelBreaks(s, now)...)

	if t, ok := d.volShift(s, prev); ok {
		out = append(out, t)
	}
	return out
}

// levelBreaks fires only on a transition into above/below; a level that stays
// breached does not fire again.
func (d *Detector) levelBreaks(s models.FeatureSnapshot, now time.Time) []models.Trigger {
	price := models.Num(s.Price)
	if price <= 0 {
		return nil
	}
	var out []models.Trigger
	for _, lvl := range s.Levels {
		if lvl.Price <= 0 {
			continue
		}
		cur := d.zoneOf(price, lvl.Price)
		key := s.Symbol + "|" + lvl.Name
		prevZone, seen := d.zones.Get(key, now)
		d.zones.Set(key, cur, d.cfg.ZoneTTL, now)

		if !seen || prevZone == cur || cur == zoneNear {
			continue
		}
		dir := models.DirectionUp
		if cur == zoneBelow {
			dir = models.DirectionDown
		}
		out = append(out, models.Trigger{
			Type: models.TriggerLevelBreak, Name: lvl.Name,
			Value: price, Threshold: lvl.Price, Direction: dir,
		})
	}
	return out
}

func (d *Detector) zoneOf(price, level float64) zone {
	dist := (price - level) / level
	switch {
	case math.Abs(dist) <= d.cfg.LevelNear:
		return zoneNear
	case dist > 0:
		return zoneAbove
	default:
		return zoneBelow
	}
}

func (d *Detector) volShift(s models.FeatureSnapshot, prev models.PrevScores) (models.Trigger, bool) {
	p := models.Num(prev.VolRatio)
	if p <= 0 {
		return models.Trigger{}, false
	}
	cur := models.Ratio(s.VolRatio)
	from, to := d.bucketOf(p), d.bucketOf(cur)
	if from == to {
		return models.Trigger{}, false
	}
	t := models.Trigger{Type: models.TriggerVolRegime, Name: to.String(), Value: cur}
	if to > from {
		t.Direction = models.DirectionUp
		t.Threshold = d.cfg.VolHigh
		if to == volNormal {
			t.Threshold = d.cfg.VolLow
		}
	} else {
		t.Direction = models.DirectionDown
		t.Threshold = d.cfg.VolLow
		if to == volNormal {
			t.Threshold = d.cfg.VolHigh
		}
	}
	return t, true
}

func (d *Detector) bucketOf(v float64) volBucket {
	switch {
	case v < d.cfg.VolLow:
		return volLow
	case v >= d.cfg.VolHigh:
		return volHigh
	default:
		return volNormal
	}
}

// dedup drops triggers whose key was stamped inside its type's window and
// stamps the survivors.
func (d *Detector) dedup(symbol string, triggers []models.Trigger, now time.Time) []models.Trigger {
	fresh := make([]models.Trigger, 0, len(triggers))
	for _, t := range triggers {
		key := symbol + "|" + t.Key()
		if _, dup := d.seen.Get(key, now); dup {
			continue
		}
		fresh = append(fresh, t)
	}
	for _, t := range fresh {
		window := d.cfg.dedupWindow(t.Type)
		d.seen.Set(symbol+"|"+t.Key(), now, window, now)
	}
	return fresh
}

func direction(v float64) models.Direction {
	switch {
	case v > 0:
		return models.DirectionUp
	case v < 0:
		return models.DirectionDown
	default:
		return models.DirectionNone
	}
}
