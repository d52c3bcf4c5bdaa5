package regime

import (
	"fmt"
	"math"
	"sync"
	"time"

	"GateKeeper/internal/domain/models"
	"GateKeeper/pkg/logger"
)

const (
	degradedConfidence = 0.1
	holdingConfidence  = 0.5
)

// Raw classifies a snapshot without hysteresis. Missing features read as
// neutral, which lands on RANGE.
func Raw(s models.FeatureSnapshot, cfg Config) (models.RegimeClass, float64, []string) {
	volumeZ := models.Num(s.VolumeZ)
	volRatio := models.Ratio(s.VolRatio)
	bandExp := models.Ratio(s.BandExpansion)
	trend := models.Num(s.TrendStrength)
	drift := models.Num(s.Drift)
	absDrift := math.Abs(drift)

	if s.StructureBreak && volumeZ >= cfg.VolumeZFloor && volRatio >= cfg.VolExpansionFloor {
		return models.RegimeBreakout, 0.85, []string{
			"structure_break",
			fmt.Sprintf("volume_z=%.2f>=%.2f", volumeZ, cfg.VolumeZFloor),
			fmt.Sprintf("vol_ratio=%.2f>=%.2f", volRatio, cfg.VolExpansionFloor),
		}
	}
	if trend >= cfg.TrendFloor && (bandExp >= cfg.BandFloor || volumeZ >= cfg.VolumeZFloor) {
		reasons := []string{fmt.Sprintf("trend=%.2f>=%.2f", trend, cfg.TrendFloor)}
		if bandExp >= cfg.BandFloor {
			reasons = append(reasons, fmt.Sprintf("band_expansion=%.2f", bandExp))
		}
		if volumeZ >= cfg.VolumeZFloor {
			reasons = append(reasons, fmt.Sprintf("volume_z=%.2f", volumeZ))
		}
		return models.RegimeBreakout, 0.75, reasons
	}
	if absDrift >= cfg.DriftThreshold && trend < cfg.TrendFloor {
		conf := 0.55 + 0.35*math.Min(1, (absDrift-cfg.DriftThreshold)/cfg.DriftThreshold)
		return driftClass(drift), conf, []string{fmt.Sprintf("drift=%.4f", drift)}
	}
	if absDrift < cfg.DriftThreshold && trend < cfg.RangeTrendCeiling {
		return models.RegimeRange, 0.6, []string{"low_drift", "low_trend"}
	}
	if absDrift >= cfg.DriftThreshold/2 {
		return driftClass(drift), 0.4, []string{"fallback_drift"}
	}
	return models.RegimeRange, 0.4, []string{"fallback_range"}
}

func driftClass(drift float64) models.RegimeClass {
	if drift < 0 {
		return models.RegimeDriftDown
	}
	return models.RegimeDriftUp
}

// Advance applies one raw observation to st. A flip needs MinDwell elapsed
// since the current regime was accepted and Confirmations consecutive matches.
func Advance(st models.RegimeState, raw models.RegimeClass, now time.Time, cfg Config) (models.RegimeState, bool) {
	if !st.Initialized {
		return models.RegimeState{Current: raw, HeldSince: now, Initialized: true}, true
	}
	if raw == st.Current {
		st.Pending = ""
		st.PendingCount = 0
		return st, false
	}
	if now.Sub(st.HeldSince) < cfg.MinDwell {
		return st, false
	}
	if raw == st.Pending {
		st.PendingCount++
	} else {
		st.Pending = raw
		st.PendingCount = 1
	}
	confirmations := cfg.Confirmations
	if confirmations < 1 {
		confirmations = 1
	}
	if st.PendingCount >= confirmations {
		return models.RegimeState{Current: raw, HeldSince: now, Initialized: true}, true
	}
	return st, false
}

// Classifier owns the hysteresis state of one symbol stream.
type Classifier struct {
	mu     sync.Mutex
	symbol string
	cfg    Config
	state  models.RegimeState
	log    *logger.Logger
	raw    func(models.FeatureSnapshot, Config) (models.RegimeClass, float64, []string)
}

func NewClassifier(symbol string, cfg Config, log *logger.Logger) *Classifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Classifier{symbol: symbol, cfg: cfg, log: log, raw: Raw}
}

// Classify never panics: an internal failure yields RANGE with degraded confidence.
func (c *Classifier) Classify(s models.FeatureSnapshot, now time.Time) (res models.RegimeResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("regime classification failed",
				logger.String("symbol", c.symbol),
				logger.Any("panic", r),
			)
			res = models.RegimeResult{
				Symbol:     c.symbol,
				Class:      models.RegimeRange,
				Raw:        models.RegimeRange,
				Confidence: degradedConfidence,
				Reasons:    []string{"classifier_error"},
				At:         now,
			}
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	raw, conf, reasons := c.raw(s, c.cfg)
	next, changed := Advance(c.state, raw, now, c.cfg)
	c.state = next

	res = models.RegimeResult{
		Symbol:     c.symbol,
		Class:      next.Current,
		Raw:        raw,
		Confidence: conf,
		Reasons:    reasons,
		Changed:    changed,
		At:         now,
	}
	if raw != next.Current {
		res.Confidence = holdingConfidence
		res.Reasons = append(res.Reasons, fmt.Sprintf("holding %s (pending %s %d/%d)",
			next.Current, next.Pending, next.PendingCount, c.cfg.Confirmations))
	}
	return res
}

func (c *Classifier) State() models.RegimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
