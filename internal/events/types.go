// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	PositionOpened EventType = "position.opened"
	PositionClosed EventType = "position.closed"
	PriceUpdated   EventType = "price.updated"
	ExitTriggered  EventType = "exit.triggered"
	TradeExecuted  EventType = "trade.executed"
	TradeFailed    EventType = "trade.failed"

	MonitoringStarted EventType = "monitoring.started"
	MonitoringStopped EventType = "monitoring.stopped"
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

func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now()}
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

type PositionOpenedEvent struct {
	BaseEvent
	Mint       string
	Wallet     string
	Quantity   uint64
	EntryPrice float64
	Signature  string
}

type PositionClosedEvent struct {
	BaseEvent
	Mint        string
	Wallet      string
	Reason      string
	RealizedSOL float64
}

type PriceUpdatedEvent struct {
	BaseEvent
	Mint          string
	Price         float64
	EntryPrice    float64
	HighWatermark float64
	PnLPct        float64
}

type ExitTriggeredEvent struct {
	BaseEvent
	Mint     string
	Wallet   string
	Reason   string
	Price    float64
	Quantity uint64
}

type TradeExecutedEvent struct {
	BaseEvent
	Side      string
	Mint      string
	Wallet    string
	Route     string
	Signature string
	Quantity  uint64
	Lamports  uint64
}

type TradeFailedEvent struct {
	BaseEvent
	Side   string
	Mint   string
	Wallet string
	Class  string
	Error  error
}

type MonitoringStartedEvent struct {
	BaseEvent
	Mint       string
	EntryPrice float64
	Quantity   uint64
}

type MonitoringStoppedEvent struct {
	BaseEvent
	Mint   string
	Reason string // "closed", "shutdown", "error"
}
