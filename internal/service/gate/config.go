package gate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"GateKeeper/internal/domain/models"
)

type Config struct {
	Location    *time.Location
	AuditedGate string

	DailyCalls       int
	DailyCost        decimal.Decimal
	MonthlyCost      decimal.Decimal
	UrgentDailyCalls int

	Cooldown     time.Duration
	EventWindow  time.Duration
	UserWindow   time.Duration
	UrgentWindow time.Duration
	ErrorBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Location:         time.UTC,
		AuditedGate:      "analysis",
		DailyCalls:       40,
		DailyCost:        decimal.NewFromInt(2),
		MonthlyCost:      decimal.NewFromInt(30),
		UrgentDailyCalls: 5,
		Cooldown:         20 * time.Minute,
		EventWindow:      time.Hour,
		UserWindow:       time.Minute,
		UrgentWindow:     5 * time.Minute,
		ErrorBackoff:     10 * time.Minute,
	}
}

// dupWindow is how long a situation hash blocks repeats for class.
func (c Config) dupWindow(class models.CallClass) time.Duration {
	switch class {
	case models.CallUserInitiated:
		return c.UserWindow
	case models.CallUrgentSystem:
		return c.UrgentWindow
	default:
		return c.EventWindow
	}
}

func (c Config) maxDupWindow() time.Duration {
	m := c.EventWindow
	if c.UserWindow > m {
		m = c.UserWindow
	}
	if c.UrgentWindow > m {
		m = c.UrgentWindow
	}
	return m
}

// Spec registers one gate. A nil Capable means always capable; a nil
// Precondition always passes. A zero Cooldown uses Config.Cooldown.
type Spec struct {
	Capable      func() bool
	Precondition func(ctx context.Context, req models.GateRequest) (bool, string)
	Cooldown     time.Duration
}

// Action is the external call a gate protects.
type Action func(ctx context.Context) (interface{}, error)
