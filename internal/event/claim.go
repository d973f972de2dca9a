// internal/event/claim.go
package event

import (
	"time"

	"github.com/google/uuid"
)

// ClaimWinnings settles a position on a resolved market.
type ClaimWinnings struct {
	ClaimID   uuid.UUID // Idempotency key
	UserID    uuid.UUID
	Market    uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (c *ClaimWinnings) IdempotencyKey() string {
	return c.ClaimID.String()
}

func (c *ClaimWinnings) EventType() EventType {
	return EventTypeClaimWinnings
}

func (c *ClaimWinnings) MarketID() *string {
	m := c.Market.String()
	return &m
}

func (c *ClaimWinnings) SourceSequence() int64 {
	return c.Sequence
}

// ClaimRefund returns a position's full stake on a cancelled market.
type ClaimRefund struct {
	ClaimID   uuid.UUID // Idempotency key
	UserID    uuid.UUID
	Market    uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (c *ClaimRefund) IdempotencyKey() string {
	return c.ClaimID.String()
}

func (c *ClaimRefund) EventType() EventType {
	return EventTypeClaimRefund
}

func (c *ClaimRefund) MarketID() *string {
	m := c.Market.String()
	return &m
}

func (c *ClaimRefund) SourceSequence() int64 {
	return c.Sequence
}
