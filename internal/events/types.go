package events

import (
	"time"
)

// EventType identifies the kind of event flowing through the bus.
type EventType string

const (
	// Exit pipeline outcomes
	ExitExecuted         EventType = "exit.executed"
	ExitFailed           EventType = "exit.failed"
	ExitPendingSignature EventType = "exit.pending_signature"
	ExitUnconfirmed      EventType = "exit.unconfirmed"

	// Monitor lifecycle
	MonitoringStarted EventType = "monitoring.started"
	MonitoringStopped EventType = "monitoring.stopped"
	PassCompleted     EventType = "monitoring.pass_completed"
)

// Severity grades how a subscriber should surface an event to the user.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is the base interface for everything published on the bus.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides the common fields.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

// NewBase stamps a base event with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// ExitExecutedEvent is emitted after a position has been sold and persisted
// as closed. Confirmed is false when the confirmation check did not settle
// within its window; the broadcast may still land later.
type ExitExecutedEvent struct {
	BaseEvent
	PositionID  string
	TokenMint   string
	TokenSymbol string
	Action      string
	ExitPrice   float64
	PnLPercent  float64
	TxSignature string
	Confirmed   bool
}

// ExitFailedEvent is emitted when a triggered exit could not be executed.
type ExitFailedEvent struct {
	BaseEvent
	PositionID  string
	TokenMint   string
	TokenSymbol string
	Action      string
	Stage       string
	Reason      string
}

// ExitPendingSignatureEvent is emitted when an exit is parked waiting for a
// signer to become available. The host should prompt a wallet reconnect.
type ExitPendingSignatureEvent struct {
	BaseEvent
	PositionID  string
	TokenSymbol string
	Action      string
}

// ExitUnconfirmedEvent is emitted when a broadcast sell could not be confirmed
// in time. Distinct from a hard failure: funds may already be committed.
type ExitUnconfirmedEvent struct {
	BaseEvent
	PositionID  string
	TokenSymbol string
	TxSignature string
}

// MonitoringStartedEvent is emitted when the exit monitor arms its timer.
type MonitoringStartedEvent struct {
	BaseEvent
	Interval time.Duration
}

// MonitoringStoppedEvent is emitted when the exit monitor is stopped.
type MonitoringStoppedEvent struct {
	BaseEvent
	Reason string
}

// PassCompletedEvent summarizes one evaluation pass.
type PassCompletedEvent struct {
	BaseEvent
	Total       int
	Holding     int
	TakeProfits int
	StopLosses  int
	Executed    int
	Duration    time.Duration
}

// Notification is the user-facing toast shape expected by presentation hosts.
type Notification struct {
	Title    string
	Message  string
	Severity Severity
	Metadata map[string]string
}
