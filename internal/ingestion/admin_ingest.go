package ingestion

import (
	"PredictLedger/internal/event"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AdminIngestService provides manual event injection for operator tooling.
// Admin injection is for low-volume interventions, not for high-throughput
// ingestion (use NATS for that).
type AdminIngestService struct {
	eventChan chan<- event.Event
}

func NewAdminIngestService(eventChan chan<- event.Event) *AdminIngestService {
	return &AdminIngestService{eventChan: eventChan}
}

// InjectEmergencyPause manually injects an EmergencyPause event.
// A nil marketID pauses the whole program.
func (s *AdminIngestService) InjectEmergencyPause(
	ctx context.Context,
	signer uuid.UUID,
	marketID *uuid.UUID,
	pause bool,
) error {
	evt := &event.EmergencyPause{
		OpID:      uuid.New(),
		Signer:    signer,
		Market:    marketID,
		Pause:     pause,
		Sequence:  time.Now().UnixMicro(), // Admin-injected: use timestamp as sequence
		Timestamp: time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectResolveMarket manually injects a ResolveMarket event.
func (s *AdminIngestService) InjectResolveMarket(
	ctx context.Context,
	signer uuid.UUID,
	marketID uuid.UUID,
	outcome bool,
	resolutionData string,
) error {
	evt := &event.ResolveMarket{
		OpID:           uuid.New(),
		Market:         marketID,
		Signer:         signer,
		Outcome:        outcome,
		ResolutionData: resolutionData,
		Sequence:       time.Now().UnixMicro(),
		Timestamp:      time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectCancelMarket manually injects a CancelMarket event.
func (s *AdminIngestService) InjectCancelMarket(
	ctx context.Context,
	signer uuid.UUID,
	marketID uuid.UUID,
	reason string,
) error {
	if reason == "" {
		return fmt.Errorf("cancellation reason required")
	}

	evt := &event.CancelMarket{
		OpID:      uuid.New(),
		Market:    marketID,
		Signer:    signer,
		Reason:    reason,
		Sequence:  time.Now().UnixMicro(),
		Timestamp: time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
