package models

import "time"

type RegimeClass string

const (
	RegimeRange     RegimeClass = "RANGE"
	RegimeDriftUp   RegimeClass = "DRIFT_UP"
	RegimeDriftDown RegimeClass = "DRIFT_DOWN"
	RegimeBreakout  RegimeClass = "BREAKOUT"
)

// RegimeState is the hysteresis state of one classifier.
type RegimeState struct {
	Current      RegimeClass `json:"current"`
	HeldSince    time.Time   `json:"held_since"`
	Pending      RegimeClass `json:"pending,omitempty"`
	PendingCount int         `json:"pending_count"`
	Initialized  bool        `json:"initialized"`
}

type RegimeResult struct {
	Symbol     string      `json:"symbol"`
	Class      RegimeClass `json:"class"`
	Raw        RegimeClass `json:"raw"`
	Confidence float64     `json:"confidence"`
	Reasons    []string    `json:"reasons"`
	Changed    bool        `json:"changed"`
	At         time.Time   `json:"at"`
}
