// internal/event/bet.go
package event

import (
	"time"

	"github.com/google/uuid"
)

// Side is the outcome a bet backs
type Side int32

const (
	SideNo Side = iota
	SideYes
)

func (s Side) IsYes() bool {
	return s == SideYes
}

func (s Side) String() string {
	if s == SideYes {
		return "Yes"
	}
	return "No"
}

// ParseSide maps a wire string onto a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "yes", "Yes", "YES":
		return SideYes, true
	case "no", "No", "NO":
		return SideNo, true
	}
	return 0, false
}

// PlaceBet stakes an amount on one side of a market.
// Idempotency key: bet_id (UUID minted by the caller, so redelivery of the
// same bet is deduped but a new bet is never confused with a retry).
type PlaceBet struct {
	BetID     uuid.UUID // Idempotency key
	UserID    uuid.UUID
	Market    uuid.UUID
	BetSide   Side
	Amount    int64     // Gross stake, smallest asset denomination
	MaxPrice  int64     // Slippage bound, price scale (1.0 == 1_000_000)
	Sequence  int64     // Source sequence within the market partition
	Timestamp time.Time // Versioned input timestamp (NOT wall-clock)
}

func (b *PlaceBet) IdempotencyKey() string {
	return b.BetID.String()
}

func (b *PlaceBet) EventType() EventType {
	return EventTypePlaceBet
}

func (b *PlaceBet) MarketID() *string {
	m := b.Market.String()
	return &m
}

func (b *PlaceBet) SourceSequence() int64 {
	return b.Sequence
}
