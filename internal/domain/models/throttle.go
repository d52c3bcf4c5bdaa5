package models

import "time"

type ActionType string

const (
	ActionOpen   ActionType = "open"
	ActionAdd    ActionType = "add"
	ActionClose  ActionType = "close"
	ActionReduce ActionType = "reduce"
)

// IsExit reports whether the action reduces risk. Exits are never throttled.
func (a ActionType) IsExit() bool {
	return a == ActionClose || a == ActionReduce
}

type CheckResult struct {
	OK          bool      `json:"ok"`
	Reason      string    `json:"reason,omitempty"`
	NextAllowed time.Time `json:"next_allowed,omitempty"`
}

type RejectionKind string

const (
	RejectRateLimit   RejectionKind = "RATE_LIMIT"
	RejectMinSize     RejectionKind = "MIN_SIZE"
	RejectPersistence RejectionKind = "PERSISTENCE"
	RejectNetwork     RejectionKind = "NETWORK"
)

type RejectionOutcome struct {
	Kind              RejectionKind `json:"kind"`
	LockUntil         time.Time     `json:"lock_until"`
	Backoff           time.Duration `json:"backoff"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	Halted            bool          `json:"halted"`
}

type ThrottleStatus struct {
	AttemptsLastHour  int                  `json:"attempts_last_hour"`
	Attempts10m       int                  `json:"attempts_10m"`
	LastAction        map[string]time.Time `json:"last_action"`
	LastAny           time.Time            `json:"last_any"`
	EntryLockUntil    time.Time            `json:"entry_lock_until"`
	LockReason        string               `json:"lock_reason,omitempty"`
	ConsecutiveErrors map[string]int       `json:"consecutive_errors"`
	Halted            bool                 `json:"halted"`
	HaltReason        string               `json:"halt_reason,omitempty"`
}

type AttemptStatus string

const (
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptAccepted  AttemptStatus = "accepted"
	AttemptRejected  AttemptStatus = "rejected"
)

// Attempt is one row of the durable order attempt log.
type Attempt struct {
	ID     string        `json:"id"`
	Symbol string        `json:"symbol"`
	Action ActionType    `json:"action"`
	At     time.Time     `json:"at"`
	Status AttemptStatus `json:"status"`
}
