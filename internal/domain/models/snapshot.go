package models

import (
	"math"
	"time"
)

// Level is a named price level the detector watches for breaks.
type Level struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// FeatureSnapshot is a point-in-time view of the market features for one symbol.
// Ratio fields equal to zero or NaN are treated as missing.
type FeatureSnapshot struct {
	Symbol         string    `json:"symbol" validate:"required"`
	At             time.Time `json:"at"`
	Price          float64   `json:"price" validate:"gt=0"`
	Ret1m          float64   `json:"ret_1m"`
	Ret5m          float64   `json:"ret_5m"`
	Ret15m         float64   `json:"ret_15m"`
	Ret1h          float64   `json:"ret_1h"`
	VolRatio       float64   `json:"vol_ratio"`
	VolumeRatio    float64   `json:"volume_ratio"`
	VolumeZ        float64   `json:"volume_z"`
	BandWidth      float64   `json:"band_width"`
	BandExpansion  float64   `json:"band_expansion"`
	TrendStrength  float64   `json:"trend_strength"`
	Drift          float64   `json:"drift"`
	StructureBreak bool      `json:"structure_break"`
	Levels         []Level   `json:"levels,omitempty"`
}

type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Position is the open position for a symbol, if any.
type Position struct {
	Symbol      string       `json:"symbol"`
	Side        PositionSide `json:"side"`
	EntryPrice  float64      `json:"entry_price"`
	Size        float64      `json:"size"`
	LiqDistance float64      `json:"liq_distance"` // fraction of price to liquidation, 0 when unknown
}

// AdverseMove returns how far price has moved against the position as a
// positive fraction of entry, or 0 when it moved in favour.
func (p *Position) AdverseMove(price float64) float64 {
	if p == nil || p.EntryPrice <= 0 || price <= 0 {
		return 0
	}
	var move float64
	switch p.Side {
	case SideLong:
		move = (p.EntryPrice - price) / p.EntryPrice
	case SideShort:
		move = (price - p.EntryPrice) / p.EntryPrice
	}
	return math.Max(move, 0)
}

// CycleInput is one unit delivered by the snapshot feed.
type CycleInput struct {
	Snapshot      FeatureSnapshot `json:"snapshot" validate:"required"`
	Position      *Position       `json:"position,omitempty"`
	UserRequested bool            `json:"user_requested"`
}

// Ratio reads a ratio feature, mapping missing values to the neutral 1.0.
func Ratio(v float64) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 1.0
	}
	return v
}

// Num reads a plain numeric feature, mapping NaN and Inf to 0.
func Num(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
