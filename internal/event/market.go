// internal/event/market.go
package event

import (
	"time"

	"github.com/google/uuid"
)

// CreateMarket opens a new binary-outcome market. The market id is minted
// by the caller so the account address is derivable before submission.
type CreateMarket struct {
	OpID        uuid.UUID // Idempotency key
	Market      uuid.UUID
	Creator     uuid.UUID
	Resolver    uuid.UUID
	Title       string
	Description string
	Category    string
	ExternalRef string
	Asset       string    // "volatile" or "stable"
	Deadline    time.Time // resolution deadline
	Sequence    int64
	Timestamp   time.Time
}

func (c *CreateMarket) IdempotencyKey() string {
	return c.OpID.String()
}

func (c *CreateMarket) EventType() EventType {
	return EventTypeCreateMarket
}

func (c *CreateMarket) MarketID() *string {
	m := c.Market.String()
	return &m
}

func (c *CreateMarket) SourceSequence() int64 {
	return c.Sequence
}

// ResolveMarket sets the final outcome. A fresh op id per attempt: a
// redelivered resolve is deduped, but a second distinct attempt reaches
// the engine and is rejected there.
type ResolveMarket struct {
	OpID           uuid.UUID // Idempotency key
	Market         uuid.UUID
	Signer         uuid.UUID // must match the market's resolver
	Outcome        bool      // true = Yes
	ResolutionData string    // free-text justification, publicly auditable
	Sequence       int64
	Timestamp      time.Time
}

func (r *ResolveMarket) IdempotencyKey() string {
	return r.OpID.String()
}

func (r *ResolveMarket) EventType() EventType {
	return EventTypeResolveMarket
}

func (r *ResolveMarket) MarketID() *string {
	m := r.Market.String()
	return &m
}

func (r *ResolveMarket) SourceSequence() int64 {
	return r.Sequence
}

// CancelMarket voids a market and opens it for refunds.
type CancelMarket struct {
	OpID      uuid.UUID // Idempotency key
	Market    uuid.UUID
	Signer    uuid.UUID // must match the market creator
	Reason    string
	Sequence  int64
	Timestamp time.Time
}

func (c *CancelMarket) IdempotencyKey() string {
	return c.OpID.String()
}

func (c *CancelMarket) EventType() EventType {
	return EventTypeCancelMarket
}

func (c *CancelMarket) MarketID() *string {
	m := c.Market.String()
	return &m
}

func (c *CancelMarket) SourceSequence() int64 {
	return c.Sequence
}

// UpdateMarket edits market metadata. Nil fields are left untouched.
type UpdateMarket struct {
	OpID        uuid.UUID // Idempotency key
	Market      uuid.UUID
	Signer      uuid.UUID // must match the market creator
	Title       *string
	Description *string
	Category    *string
	ExternalRef *string
	Resolver    *uuid.UUID
	Deadline    *time.Time
	Sequence    int64
	Timestamp   time.Time
}

func (u *UpdateMarket) IdempotencyKey() string {
	return u.OpID.String()
}

func (u *UpdateMarket) EventType() EventType {
	return EventTypeUpdateMarket
}

func (u *UpdateMarket) MarketID() *string {
	m := u.Market.String()
	return &m
}

func (u *UpdateMarket) SourceSequence() int64 {
	return u.Sequence
}
