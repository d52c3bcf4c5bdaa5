package models

// GateCheckRequest is the admin body for a dry-run gate check.
type GateCheckRequest struct {
	Gate      string  `json:"gate" default:"analysis"`
	DedupKey  string  `json:"dedup_key" validate:"required"`
	EventHash string  `json:"event_hash"`
	CallClass string  `json:"call_class" default:"NORMAL"`
	Cost      float64 `json:"cost" validate:"gte=0"`
}

type ThrottleCheckRequest struct {
	Action string `json:"action" validate:"required,oneof=open add close reduce"`
}

type LockRequest struct {
	Key   string `param:"key" validate:"required"`
	Owner string `query:"owner"`
}

type RegimeRequest struct {
	Symbol string `param:"symbol" validate:"required"`
}

// AnalysisTriggerRequest asks for a user-initiated analysis. Without a
// snapshot the latest one seen for the symbol is used.
type AnalysisTriggerRequest struct {
	Symbol   string           `json:"symbol" validate:"required"`
	Snapshot *FeatureSnapshot `json:"snapshot,omitempty"`
	Position *Position        `json:"position,omitempty"`
}
