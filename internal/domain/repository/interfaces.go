package repository

import (
	"context"
	"errors"
	"time"

	"GateKeeper/internal/domain/models"
)

// ErrMalformedState is returned by a GateStateStore whose record cannot be decoded.
var ErrMalformedState = errors.New("malformed gate state")

// SnapshotStream delivers cycle inputs from the market feature feed.
type SnapshotStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.CycleInput, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// LockStore is the shared keyed store behind the distributed lock manager.
// Every write is a single keyed upsert.
type LockStore interface {
	// Get returns the live record for key, or nil when absent or expired.
	Get(ctx context.Context, key string) (*models.LockRecord, error)
	Upsert(ctx context.Context, rec *models.LockRecord, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context) (int64, error)
	// BumpStreak increments the consecutive count for scope, restarting it at 1
	// when classification differs from the stored one.
	BumpStreak(ctx context.Context, scope, classification, owner string) (models.SuppressionCounter, error)
	ResetStreak(ctx context.Context, scope string) error
}

// GateStateStore persists the single gate counter record.
type GateStateStore interface {
	// Load returns nil, nil when no state has been saved yet.
	Load(ctx context.Context) (*models.GateState, error)
	// Update reads the record, applies fn and writes the result back while
	// holding the store's write guard, so read-modify-write sequences from
	// several processes do not lose increments. fn receives nil when nothing
	// is stored and ErrMalformedState when the record cannot be decoded. A
	// nil result skips the write; an error from fn is returned unchanged.
	Update(ctx context.Context, fn func(cur *models.GateState, loadErr error) (*models.GateState, error)) error
}

// AttemptLog is the durable order attempt history used to warm-start the throttle.
type AttemptLog interface {
	Record(ctx context.Context, a models.Attempt) error
	Since(ctx context.Context, since time.Time) ([]models.Attempt, error)
}

// Notifier is a fire-and-forget operator channel.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Metrics interface {
	RecordGateDecision(gate, class, reason string, allowed bool)
	RecordLock(kind, outcome string)
	RecordThrottle(action, outcome string)
	RecordRegime(symbol, regime string, changed bool)
	RecordEvent(symbol, mode string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
