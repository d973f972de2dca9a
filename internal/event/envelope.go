package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitializeProgram
	EventTypeCreateMarket
	EventTypePlaceBet
	EventTypeResolveMarket
	EventTypeCancelMarket
	EventTypeClaimWinnings
	EventTypeClaimRefund
	EventTypeUpdateMarket
	EventTypeEmergencyPause
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market context (nullable for global events)
	MarketID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context (nil for global events)
	MarketID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeInitializeProgram:
		return "InitializeProgram"
	case EventTypeCreateMarket:
		return "CreateMarket"
	case EventTypePlaceBet:
		return "PlaceBet"
	case EventTypeResolveMarket:
		return "ResolveMarket"
	case EventTypeCancelMarket:
		return "CancelMarket"
	case EventTypeClaimWinnings:
		return "ClaimWinnings"
	case EventTypeClaimRefund:
		return "ClaimRefund"
	case EventTypeUpdateMarket:
		return "UpdateMarket"
	case EventTypeEmergencyPause:
		return "EmergencyPause"
	default:
		return "Unknown"
	}
}
