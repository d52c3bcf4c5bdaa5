package regime

import "time"

// Config holds the classification floors and hysteresis settings.
type Config struct {
	VolumeZFloor      float64
	VolExpansionFloor float64
	TrendFloor        float64
	BandFloor         float64
	DriftThreshold    float64
	RangeTrendCeiling float64
	MinDwell          time.Duration
	Confirmations     int
}

func DefaultConfig() Config {
	return Config{
		VolumeZFloor:      2.0,
		VolExpansionFloor: 1.3,
		TrendFloor:        0.6,
		BandFloor:         1.2,
		DriftThreshold:    0.002,
		RangeTrendCeiling: 0.4,
		MinDwell:          15 * time.Minute,
		Confirmations:     3,
	}
}
