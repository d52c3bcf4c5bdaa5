package event

import (
	"time"

	"GateKeeper/internal/domain/models"
)

// Config holds the detector thresholds, dedup windows and bucket widths.
type Config struct {
	// emergency gate
	ShortMove     float64
	AdverseMove   float64
	LiqDistance   float64
	VolSurge      float64
	VolumeConfirm float64
	BoxBandWidth  float64
	BoxMove       float64

	// event triggers
	Ret1m       float64
	Ret5m       float64
	Ret15m      float64
	Ret1h       float64
	VolumeSpike float64
	LevelNear   float64
	VolLow      float64
	VolHigh     float64

	Dedup map[models.TriggerType]time.Duration

	PriceBucketPct float64
	TimeBucket     time.Duration

	Lockout    time.Duration
	MaxEntries int
	// ZoneTTL bounds how long a level zone is remembered without being observed.
	ZoneTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		ShortMove:     0.02,
		AdverseMove:   0.03,
		LiqDistance:   0.05,
		VolSurge:      2.5,
		VolumeConfirm: 1.5,
		BoxBandWidth:  0.01,
		BoxMove:       0.005,
		Ret1m:         0.008,
		Ret5m:         0.012,
		Ret15m:        0.02,
		Ret1h:         0.035,
		VolumeSpike:   3.0,
		LevelNear:     0.001,
		VolLow:        0.8,
		VolHigh:       1.5,
		Dedup: map[models.TriggerType]time.Duration{
			models.TriggerReturnSpike: 15 * time.Minute,
			models.TriggerVolumeSpike: 10 * time.Minute,
			models.TriggerLevelBreak:  30 * time.Minute,
			models.TriggerVolRegime:   time.Hour,
		},
		PriceBucketPct: 0.005,
		TimeBucket:     15 * time.Minute,
		Lockout:        30 * time.Minute,
		MaxEntries:     4096,
		ZoneTTL:        24 * time.Hour,
	}
}

func (c Config) dedupWindow(t models.TriggerType) time.Duration {
	if d, ok := c.Dedup[t]; ok {
		return d
	}
	return 15 * time.Minute
}
