package models

import "time"

type TriggerType string

const (
	TriggerEmergency   TriggerType = "EMERGENCY_SIGNAL"
	TriggerReturnSpike TriggerType = "RETURN_SPIKE"
	TriggerVolumeSpike TriggerType = "VOLUME_SPIKE"
	TriggerLevelBreak  TriggerType = "LEVEL_BREAK"
	TriggerVolRegime   TriggerType = "VOL_REGIME_SHIFT"
)

type Direction string

const (
	DirectionNone Direction = ""
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Trigger is a single threshold crossing.
type Trigger struct {
	Type      TriggerType `json:"type"`
	Name      string      `json:"name,omitempty"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	Direction Direction   `json:"direction,omitempty"`
}

// Key identifies the trigger for dedup: the type, or type/name when named.
func (t Trigger) Key() string {
	if t.Name == "" {
		return string(t.Type)
	}
	return string(t.Type) + "/" + t.Name
}

type EventMode string

const (
	ModeDefault   EventMode = "DEFAULT"
	ModeEvent     EventMode = "EVENT"
	ModeUser      EventMode = "USER"
	ModeEmergency EventMode = "EMERGENCY"
)

// Priority orders modes EMERGENCY > USER > EVENT > DEFAULT.
func (m EventMode) Priority() int {
	switch m {
	case ModeEmergency:
		return 3
	case ModeUser:
		return 2
	case ModeEvent:
		return 1
	default:
		return 0
	}
}

// CallClass returns the gate call class a decision in this mode runs under.
func (m EventMode) CallClass() CallClass {
	switch m {
	case ModeEmergency:
		return CallUrgentSystem
	case ModeUser:
		return CallUserInitiated
	default:
		return CallNormal
	}
}

// PrevScores carries the previous cycle's values the detector compares against.
type PrevScores struct {
	VolRatio float64 `json:"vol_ratio"`
}

type EvalContext struct {
	UserRequested bool
	Now           time.Time
}

type EventDecision struct {
	Symbol    string    `json:"symbol"`
	Mode      EventMode `json:"mode"`
	Triggers  []Trigger `json:"triggers"`
	EventHash string    `json:"event_hash,omitempty"`
	Priority  int       `json:"priority"`
	CallClass CallClass `json:"call_class"`
	Reasons   []string  `json:"reasons,omitempty"`
	At        time.Time `json:"at"`
}

// Actionable reports whether the decision warrants an external call.
func (d EventDecision) Actionable() bool {
	return d.Mode != ModeDefault
}
