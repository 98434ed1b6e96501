package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies an emitted lifecycle event.
type EventType string

const (
	EventPositionAdmitted        EventType = "position_admitted"
	EventPositionExited          EventType = "position_exited"
	EventPositionFailed          EventType = "position_failed"
	EventEndpointCooldownEntered EventType = "endpoint_cooldown_entered"
	EventEndpointRecovered       EventType = "endpoint_recovered"
)

// Event is a typed notification pushed to reporting collaborators.
type Event struct {
	Type        EventType        `json:"type"`
	PositionID  string           `json:"position_id,omitempty"`
	Symbol      string           `json:"symbol,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
	TxHash      string           `json:"tx_hash,omitempty"`
	Endpoint    string           `json:"endpoint,omitempty"`
	At          time.Time        `json:"at"`
}

// Channel returns the pub/sub channel an event is published on.
func (e Event) Channel() string {
	switch e.Type {
	case EventEndpointCooldownEntered, EventEndpointRecovered:
		return "endpoints"
	default:
		return "positions"
	}
}

// EventSink accepts events without blocking the caller.
type EventSink interface {
	Emit(Event)
}

// DiscardEvents is an EventSink that drops everything.
type DiscardEvents struct{}

func (DiscardEvents) Emit(Event) {}
