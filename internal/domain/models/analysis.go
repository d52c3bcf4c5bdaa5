package models

import (
	"fmt"
	"time"
)

// AnalysisRequest is sent to the external analysis service.
type AnalysisRequest struct {
	Symbol    string          `json:"symbol"`
	Mode      EventMode       `json:"mode"`
	Regime    RegimeClass     `json:"regime"`
	Triggers  []Trigger       `json:"triggers,omitempty"`
	EventHash string          `json:"event_hash,omitempty"`
	Snapshot  FeatureSnapshot `json:"snapshot"`
	Position  *Position       `json:"position,omitempty"`
	At        time.Time       `json:"at"`
}

const OutcomeNoTrade = "no_trade"

// AnalysisResult is the analysis service verdict.
type AnalysisResult struct {
	Symbol     string     `json:"symbol"`
	Outcome    string     `json:"outcome"` // no_trade, long, short, exit
	Action     ActionType `json:"action,omitempty"`
	Size       float64    `json:"size,omitempty"`
	Confidence float64    `json:"confidence"`
	Summary    string     `json:"summary,omitempty"`
}

// OrderIntent is what the broker collaborator receives once the throttle approves.
type OrderIntent struct {
	ID      string       `json:"id"`
	Symbol  string       `json:"symbol"`
	Action  ActionType   `json:"action"`
	Side    PositionSide `json:"side,omitempty"`
	Size    float64      `json:"size"`
	Reason  string       `json:"reason,omitempty"`
	EventID string       `json:"event_id,omitempty"`
	At      time.Time    `json:"at"`
}

// RejectionError is returned by a broker that refused an order.
type RejectionError struct {
	Code   string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected (%s): %s", e.Code, e.Reason)
}

// OverloadError marks an external failure that should open the gate's error backoff.
type OverloadError struct {
	StatusCode int
	Err        error
}

func (e *OverloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream overloaded (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream overloaded (status %d)", e.StatusCode)
}

func (e *OverloadError) Unwrap() error { return e.Err }
