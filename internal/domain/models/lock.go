package models

import "time"

const (
	LockKindEvent       = "event"
	LockKindSuppression = "suppression"
	LockKindManual      = "manual"
)

// LockRecord is the persisted lock row. At most one live record exists per key.
type LockRecord struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the record has not expired at now.
func (r *LockRecord) Live(now time.Time) bool {
	return r != nil && now.Before(r.ExpiresAt)
}

// LockInfo describes a lock to callers. Degraded is set when the store failed
// and the answer is the fail-open default.
type LockInfo struct {
	Key       string        `json:"key"`
	Holder    string        `json:"holder,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Remaining time.Duration `json:"remaining"`
	Degraded  bool          `json:"degraded,omitempty"`
}

type SuppressionCounter struct {
	Scope              string `json:"scope"`
	ConsecutiveCount   int    `json:"consecutive_count"`
	LastClassification string `json:"last_classification"`
	LastOwner          string `json:"last_owner"`
}

type SuppressionResult struct {
	Scope      string `json:"scope"`
	Count      int    `json:"count"`
	Suppressed bool   `json:"suppressed"`
	Created    bool   `json:"created"`
	Degraded   bool   `json:"degraded,omitempty"`
}
