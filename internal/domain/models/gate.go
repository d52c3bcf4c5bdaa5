package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CallClass is the caller-authority tier of a gate request.
type CallClass string

const (
	CallNormal        CallClass = "NORMAL"
	CallUserInitiated CallClass = "USER_INITIATED"
	CallUrgentSystem  CallClass = "URGENT_SYSTEM"
)

// ParseCallClass normalizes call class names, including legacy aliases.
// Unknown names map to NORMAL, the fully enforced class.
func ParseCallClass(s string) CallClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "user_initiated", "user-initiated", "manual", "interactive":
		return CallUserInitiated
	case "urgent", "urgent_system", "urgent-system", "emergency", "system":
		return CallUrgentSystem
	default:
		return CallNormal
	}
}

type GateReason string

const (
	ReasonOK               GateReason = "OK"
	ReasonNoCapability     GateReason = "NO_CAPABILITY"
	ReasonErrorBackoff     GateReason = "ERROR_BACKOFF"
	ReasonPrecondition     GateReason = "PRECONDITION_FAILED"
	ReasonDuplicate        GateReason = "DUPLICATE"
	ReasonCooldown         GateReason = "COOLDOWN"
	ReasonDailyLimit       GateReason = "DAILY_LIMIT"
	ReasonUrgentDailyLimit GateReason = "URGENT_DAILY_LIMIT"
	ReasonMonthlyLimit     GateReason = "MONTHLY_LIMIT"
	ReasonActionFailed     GateReason = "ACTION_FAILED"
	ReasonInternal         GateReason = "INTERNAL"
)

type GateRequest struct {
	Gate      string          `json:"gate" validate:"required"`
	Payload   interface{}     `json:"payload,omitempty"`
	DedupKey  string          `json:"dedup_key"`
	EventHash string          `json:"event_hash,omitempty"`
	CallClass CallClass       `json:"call_class"`
	Cost      decimal.Decimal `json:"cost"`
}

// GateDecision is the structured result of a gate check or execution.
// Denials carry a reason code and, where meaningful, the time until retry.
type GateDecision struct {
	Allowed         bool            `json:"allowed"`
	Executed        bool            `json:"executed"`
	Reason          GateReason      `json:"reason"`
	Message         string          `json:"message,omitempty"`
	RetryAfter      time.Duration   `json:"retry_after,omitempty"`
	DailyCallsLeft  int             `json:"daily_calls_left"`
	DailyCostLeft   decimal.Decimal `json:"daily_cost_left"`
	MonthlyCostLeft decimal.Decimal `json:"monthly_cost_left"`
	Warnings        []string        `json:"warnings,omitempty"`
	Result          interface{}     `json:"result,omitempty"`
}

// GateState is the single durable counter record behind the gate.
type GateState struct {
	Day             string               `json:"day"`
	Month           string               `json:"month"`
	DailyCalls      int                  `json:"daily_calls"`
	DailyCost       decimal.Decimal      `json:"daily_cost"`
	MonthlyCost     decimal.Decimal      `json:"monthly_cost"`
	UrgentCalls     int                  `json:"urgent_calls"`
	Cooldowns       map[string]time.Time `json:"cooldowns"`
	ErrorBlockUntil time.Time            `json:"error_block_until"`
	ScheduledCount  int                  `json:"scheduled_count"`
	EventHashes     map[string]time.Time `json:"event_hashes"`
	Notified        map[string]bool      `json:"notified"`
}

// NewGateState returns empty counters for the given period.
func NewGateState(day, month string) *GateState {
	return &GateState{
		Day:         day,
		Month:       month,
		DailyCost:   decimal.Zero,
		MonthlyCost: decimal.Zero,
		Cooldowns:   make(map[string]time.Time),
		EventHashes: make(map[string]time.Time),
		Notified:    make(map[string]bool),
	}
}

// Clone deep-copies the state so callers can mutate it outside the owner's lock.
func (s *GateState) Clone() *GateState {
	if s == nil {
		return nil
	}
	c := *s
	c.Cooldowns = make(map[string]time.Time, len(s.Cooldowns))
	for k, v := range s.Cooldowns {
		c.Cooldowns[k] = v
	}
	c.EventHashes = make(map[string]time.Time, len(s.EventHashes))
	for k, v := range s.EventHashes {
		c.EventHashes[k] = v
	}
	c.Notified = make(map[string]bool, len(s.Notified))
	for k, v := range s.Notified {
		c.Notified[k] = v
	}
	return &c
}
