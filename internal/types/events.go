package types

import "time"

// EventKind names a notification emitted by the engine.
type EventKind string

const (
	EventEngineStarted  EventKind = "engine_started"
	EventEngineStopped  EventKind = "engine_stopped"
	EventBuyExecuted    EventKind = "buy_executed"
	EventPositionClosed EventKind = "position_closed"
	EventDayClosed      EventKind = "day_closed"
	EventCycleError     EventKind = "cycle_error"
)

// Level mirrors the severity a UI would colour the event with.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Event is a one-way, human-readable notification. Only the payload
// field matching Kind is set.
type Event struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`

	Symbol     string      `json:"symbol,omitempty"`
	Fill       *Fill       `json:"fill,omitempty"`
	Closure    *Closure    `json:"closure,omitempty"`
	Day        *DailyStats `json:"day,omitempty"`
	Compounded bool        `json:"compounded,omitempty"`
	Vault      *VaultState `json:"vault,omitempty"`
	Err        string      `json:"error,omitempty"`
}
