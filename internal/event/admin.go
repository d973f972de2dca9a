// internal/event/admin.go
package event

import (
	"time"

	"github.com/google/uuid"
)

// InitializeProgram creates the global configuration singleton.
type InitializeProgram struct {
	OpID            uuid.UUID // Idempotency key
	Authority       uuid.UUID
	FeeBps          int64
	MinDurationSecs int64
	MaxDurationSecs int64
	MinBet          int64 // smallest stable-asset units
	MaxBet          int64
	Sequence        int64
	Timestamp       time.Time
}

func (i *InitializeProgram) IdempotencyKey() string {
	return i.OpID.String()
}

func (i *InitializeProgram) EventType() EventType {
	return EventTypeInitializeProgram
}

func (i *InitializeProgram) MarketID() *string {
	return nil // Global event
}

func (i *InitializeProgram) SourceSequence() int64 {
	return i.Sequence
}

// EmergencyPause halts or resumes betting. With a market set it pauses one
// market; without, it flips the global pause flag.
type EmergencyPause struct {
	OpID      uuid.UUID // Idempotency key
	Signer    uuid.UUID // must match the global authority
	Market    *uuid.UUID
	Pause     bool // false resumes
	Sequence  int64
	Timestamp time.Time
}

func (e *EmergencyPause) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *EmergencyPause) EventType() EventType {
	return EventTypeEmergencyPause
}

func (e *EmergencyPause) MarketID() *string {
	if e.Market == nil {
		return nil
	}
	m := e.Market.String()
	return &m
}

func (e *EmergencyPause) SourceSequence() int64 {
	return e.Sequence
}
