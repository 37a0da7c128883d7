// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Detection events
	TokenDetected EventType = "token.detected"

	// Position lifecycle events
	PositionOpened    EventType = "position.opened"
	PositionFailed    EventType = "position.failed"
	TargetReached     EventType = "position.target_reached"
	PositionClosed    EventType = "position.closed"
	SellRetryExceeded EventType = "position.sell_retry_exceeded"
	PositionUncertain EventType = "position.uncertain"

	// Configuration events
	ConfigUpdated EventType = "config.updated"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// TokenDetectedEvent is emitted when the deduplicator forwards a detection.
type TokenDetectedEvent struct {
	BaseEvent
	TokenAddress string
	Symbol       string
	Source       string
	AutoTrade    bool
}

// PositionOpenedEvent is emitted when a buy completes and a position opens.
type PositionOpenedEvent struct {
	BaseEvent
	TokenAddress string
	Symbol       string
	EntryPrice   float64
	Quantity     float64
	BuyAmountSol float64
}

// PositionFailedEvent is emitted when an open attempt exhausts its retry
// budget or hits a non-retryable error.
type PositionFailedEvent struct {
	BaseEvent
	TokenAddress string
	Err          error
}

// TargetReachedEvent is emitted when a price sample crosses the target
// multiplier and the position begins closing.
type TargetReachedEvent struct {
	BaseEvent
	TokenAddress string
	EntryPrice   float64
	CurrentPrice float64
	Multiplier   float64
}

// PositionClosedEvent is emitted when a sell completes.
type PositionClosedEvent struct {
	BaseEvent
	TokenAddress      string
	QuantitySold      float64
	RemainingQuantity float64
	ProceedsSol       float64
	SellPercentage    float64
}

// SellRetryExceededEvent is emitted when a sell fails after the retry
// budget and the position returns to monitoring.
type SellRetryExceededEvent struct {
	BaseEvent
	TokenAddress        string
	ConsecutiveFailures int
	Err                 error
}

// PositionUncertainEvent is emitted when a buy or sell was submitted but
// its outcome is unconfirmed; the position is blocked until reconciled.
type PositionUncertainEvent struct {
	BaseEvent
	TokenAddress string
	Operation    string
	Err          error
}

// ConfigUpdatedEvent is emitted when the operator changes a trading setting.
type ConfigUpdatedEvent struct {
	BaseEvent
	Field    string
	NewValue string
}
