package ingestion

import (
	"PredictLedger/internal/event"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// operations before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "InitializeProgram":
		return parseInitializeProgram(raw.Data)
	case "CreateMarket":
		return parseCreateMarket(raw.Data)
	case "PlaceBet":
		return parsePlaceBet(raw.Data)
	case "ResolveMarket":
		return parseResolveMarket(raw.Data)
	case "CancelMarket":
		return parseCancelMarket(raw.Data)
	case "ClaimWinnings":
		return parseClaimWinnings(raw.Data)
	case "ClaimRefund":
		return parseClaimRefund(raw.Data)
	case "UpdateMarket":
		return parseUpdateMarket(raw.Data)
	case "EmergencyPause":
		return parseEmergencyPause(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type initializeProgramJSON struct {
	OpID            string `json:"op_id"`
	Authority       string `json:"authority"`
	FeeBps          int64  `json:"fee_bps"`
	MinDurationSecs int64  `json:"min_duration_secs"`
	MaxDurationSecs int64  `json:"max_duration_secs"`
	MinBet          int64  `json:"min_bet"`
	MaxBet          int64  `json:"max_bet"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parseInitializeProgram(data []byte) (*event.InitializeProgram, error) {
	var j initializeProgramJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse InitializeProgram: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	authority, err := uuid.Parse(j.Authority)
	if err != nil {
		return nil, fmt.Errorf("parse authority: %w", err)
	}
	return &event.InitializeProgram{
		OpID:            opID,
		Authority:       authority,
		FeeBps:          j.FeeBps,
		MinDurationSecs: j.MinDurationSecs,
		MaxDurationSecs: j.MaxDurationSecs,
		MinBet:          j.MinBet,
		MaxBet:          j.MaxBet,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type createMarketJSON struct {
	OpID        string `json:"op_id"`
	Market      string `json:"market"`
	Creator     string `json:"creator"`
	Resolver    string `json:"resolver"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
	Asset       string `json:"asset"` // "volatile" or "stable"
	DeadlineUs  int64  `json:"deadline_us"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCreateMarket(data []byte) (*event.CreateMarket, error) {
	var j createMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateMarket: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	marketID, err := uuid.Parse(j.Market)
	if err != nil {
		return nil, fmt.Errorf("parse market: %w", err)
	}
	creatorID, err := uuid.Parse(j.Creator)
	if err != nil {
		return nil, fmt.Errorf("parse creator: %w", err)
	}
	resolverID, err := uuid.Parse(j.Resolver)
	if err != nil {
		return nil, fmt.Errorf("parse resolver: %w", err)
	}
	return &event.CreateMarket{
		OpID:        opID,
		Market:      marketID,
		Creator:     creatorID,
		Resolver:    resolverID,
		Title:       j.Title,
		Description: j.Description,
		Category:    j.Category,
		ExternalRef: j.ExternalRef,
		Asset:       j.Asset,
		Deadline:    time.UnixMicro(j.DeadlineUs),
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type placeBetJSON struct {
	BetID       string `json:"bet_id"`
	UserID      string `json:"user_id"`
	Market      string `json:"market"`
	Side        string `json:"side"` // "yes" or "no"
	Amount      int64  `json:"amount"`
	MaxPrice    int64  `json:"max_price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePlaceBet(data []byte) (*event.PlaceBet, error) {
	var j placeBetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PlaceBet: %w", err)
	}
	betID, err := uuid.Parse(j.BetID)
	if err != nil {
		return nil, fmt.Errorf("parse bet_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	marketID, err := uuid.Parse(j.Market)
	if err != nil {
		return nil, fmt.Errorf("parse market: %w", err)
	}
	side, ok := event.ParseSide(j.Side)
	if !ok {
		return nil, fmt.Errorf("parse side: unknown value %q", j.Side)
	}
	return &event.PlaceBet{
		BetID:     betID,
		UserID:    userID,
		Market:    marketID,
		BetSide:   side,
		Amount:    j.Amount,
		MaxPrice:  j.MaxPrice,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type resolveMarketJSON struct {
	OpID           string `json:"op_id"`
	Market         string `json:"market"`
	Signer         string `json:"signer"`
	Outcome        string `json:"outcome"` // "yes" or "no"
	ResolutionData string `json:"resolution_data,omitempty"`
	Sequence       int64  `json:"sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func parseResolveMarket(data []byte) (*event.ResolveMarket, error) {
	var j resolveMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ResolveMarket: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	marketID, err := uuid.Parse(j.Market)
	if err != nil {
		return nil, fmt.Errorf("parse market: %w", err)
	}
	signerID, err := uuid.Parse(j.Signer)
	if err != nil {
		return nil, fmt.Errorf("parse signer: %w", err)
	}
	outcome, ok := event.ParseSide(j.Outcome)
	if !ok {
		return nil, fmt.Errorf("parse outcome: unknown value %q", j.Outcome)
	}
	return &event.ResolveMarket{
		OpID:           opID,
		Market:         marketID,
		Signer:         signerID,
		Outcome:        outcome.IsYes(),
		ResolutionData: j.ResolutionData,
		Sequence:       j.Sequence,
		Timestamp:      time.UnixMicro(j.TimestampUs),
	}, nil
}

type cancelMarketJSON struct {
	OpID        string `json:"op_id"`
	Market      string `json:"market"`
	Signer      string `json:"signer"`
	Reason      string `json:"reason,omitempty"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCancelMarket(data []byte) (*event.CancelMarket, error) {
	var j cancelMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CancelMarket: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	marketID, err := uuid.Parse(j.Market)
	if err != nil {
		return nil, fmt.Errorf("parse market: %w", err)
	}
	signerID, err := uuid.Parse(j.Signer)
	if err != nil {
		return nil, fmt.Errorf("parse signer: %w", err)
	}
	return &event.CancelMarket{
		OpID:      opID,
		Market:    marketID,
		Signer:    signerID,
		Reason:    j.Reason,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type claimJSON struct {
	ClaimID     string `json:"claim_id"`
	UserID      string `json:"user_id"`
	Market      string `json:"market"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseClaimWinnings(data []byte) (*event.ClaimWinnings, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimWinnings: %w", err)
	}
	claimID, userID, marketID, err := parseClaimIDs(j)
	if err != nil {
		return nil, err
	}
	return &event.ClaimWinnings{
		ClaimID:   claimID,
		UserID:    userID,
		Market:    marketID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseClaimRefund(data []byte) (*event.ClaimRefund, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimRefund: %w", err)
	}
	claimID, userID, marketID, err := parseClaimIDs(j)
	if err != nil {
		return nil, err
	}
	return &event.ClaimRefund{
		ClaimID:   claimID,
		UserID:    userID,
		Market:    marketID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseClaimIDs(j claimJSON) (claimID, userID, marketID uuid.UUID, err error) {
	claimID, err = uuid.Parse(j.ClaimID)
	if err != nil {
		return claimID, userID, marketID, fmt.Errorf("parse claim_id: %w", err)
	}
	userID, err = uuid.Parse(j.UserID)
	if err != nil {
		return claimID, userID, marketID, fmt.Errorf("parse user_id: %w", err)
	}
	marketID, err = uuid.Parse(j.Market)
	if err != nil {
		return claimID, userID, marketID, fmt.Errorf("parse market: %w", err)
	}
	return claimID, userID, marketID, nil
}

type updateMarketJSON struct {
	OpID        string  `json:"op_id"`
	Market      string  `json:"market"`
	Signer      string  `json:"signer"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
	ExternalRef *string `json:"external_ref,omitempty"`
	Resolver    *string `json:"resolver,omitempty"`
	DeadlineUs  *int64  `json:"deadline_us,omitempty"`
	Sequence    int64   `json:"sequence"`
	TimestampUs int64   `json:"timestamp_us"`
}

func parseUpdateMarket(data []byte) (*event.UpdateMarket, error) {
	var j updateMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UpdateMarket: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	marketID, err := uuid.Parse(j.Market)
	if err != nil {
		return nil, fmt.Errorf("parse market: %w", err)
	}
	signerID, err := uuid.Parse(j.Signer)
	if err != nil {
		return nil, fmt.Errorf("parse signer: %w", err)
	}

	evt := &event.UpdateMarket{
		OpID:        opID,
		Market:      marketID,
		Signer:      signerID,
		Title:       j.Title,
		Description: j.Description,
		Category:    j.Category,
		ExternalRef: j.ExternalRef,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}
	if j.Resolver != nil {
		resolverID, err := uuid.Parse(*j.Resolver)
		if err != nil {
			return nil, fmt.Errorf("parse resolver: %w", err)
		}
		evt.Resolver = &resolverID
	}
	if j.DeadlineUs != nil {
		deadline := time.UnixMicro(*j.DeadlineUs)
		evt.Deadline = &deadline
	}
	return evt, nil
}

// MarshalEventPayload is the inverse of ParseRawEvent: it serializes a typed
// event back to its wire JSON. Event rows store this form so replay can feed
// them through the same parse path as live traffic.
func MarshalEventPayload(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.InitializeProgram:
		return json.Marshal(initializeProgramJSON{
			OpID:            e.OpID.String(),
			Authority:       e.Authority.String(),
			FeeBps:          e.FeeBps,
			MinDurationSecs: e.MinDurationSecs,
			MaxDurationSecs: e.MaxDurationSecs,
			MinBet:          e.MinBet,
			MaxBet:          e.MaxBet,
			Sequence:        e.Sequence,
			TimestampUs:     e.Timestamp.UnixMicro(),
		})
	case *event.CreateMarket:
		return json.Marshal(createMarketJSON{
			OpID:        e.OpID.String(),
			Market:      e.Market.String(),
			Creator:     e.Creator.String(),
			Resolver:    e.Resolver.String(),
			Title:       e.Title,
			Description: e.Description,
			Category:    e.Category,
			ExternalRef: e.ExternalRef,
			Asset:       e.Asset,
			DeadlineUs:  e.Deadline.UnixMicro(),
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.PlaceBet:
		side := "no"
		if e.BetSide.IsYes() {
			side = "yes"
		}
		return json.Marshal(placeBetJSON{
			BetID:       e.BetID.String(),
			UserID:      e.UserID.String(),
			Market:      e.Market.String(),
			Side:        side,
			Amount:      e.Amount,
			MaxPrice:    e.MaxPrice,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.ResolveMarket:
		outcome := "no"
		if e.Outcome {
			outcome = "yes"
		}
		return json.Marshal(resolveMarketJSON{
			OpID:           e.OpID.String(),
			Market:         e.Market.String(),
			Signer:         e.Signer.String(),
			Outcome:        outcome,
			ResolutionData: e.ResolutionData,
			Sequence:       e.Sequence,
			TimestampUs:    e.Timestamp.UnixMicro(),
		})
	case *event.CancelMarket:
		return json.Marshal(cancelMarketJSON{
			OpID:        e.OpID.String(),
			Market:      e.Market.String(),
			Signer:      e.Signer.String(),
			Reason:      e.Reason,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.ClaimWinnings:
		return json.Marshal(claimJSON{
			ClaimID:     e.ClaimID.String(),
			UserID:      e.UserID.String(),
			Market:      e.Market.String(),
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.ClaimRefund:
		return json.Marshal(claimJSON{
			ClaimID:     e.ClaimID.String(),
			UserID:      e.UserID.String(),
			Market:      e.Market.String(),
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.UpdateMarket:
		j := updateMarketJSON{
			OpID:        e.OpID.String(),
			Market:      e.Market.String(),
			Signer:      e.Signer.String(),
			Title:       e.Title,
			Description: e.Description,
			Category:    e.Category,
			ExternalRef: e.ExternalRef,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		}
		if e.Resolver != nil {
			s := e.Resolver.String()
			j.Resolver = &s
		}
		if e.Deadline != nil {
			us := e.Deadline.UnixMicro()
			j.DeadlineUs = &us
		}
		return json.Marshal(j)
	case *event.EmergencyPause:
		j := emergencyPauseJSON{
			OpID:        e.OpID.String(),
			Signer:      e.Signer.String(),
			Pause:       e.Pause,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		}
		if e.Market != nil {
			s := e.Market.String()
			j.Market = &s
		}
		return json.Marshal(j)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

type emergencyPauseJSON struct {
	OpID        string  `json:"op_id"`
	Signer      string  `json:"signer"`
	Market      *string `json:"market,omitempty"` // nil pauses globally
	Pause       bool    `json:"pause"`
	Sequence    int64   `json:"sequence"`
	TimestampUs int64   `json:"timestamp_us"`
}

func parseEmergencyPause(data []byte) (*event.EmergencyPause, error) {
	var j emergencyPauseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EmergencyPause: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	signerID, err := uuid.Parse(j.Signer)
	if err != nil {
		return nil, fmt.Errorf("parse signer: %w", err)
	}

	evt := &event.EmergencyPause{
		OpID:      opID,
		Signer:    signerID,
		Pause:     j.Pause,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}
	if j.Market != nil {
		marketID, err := uuid.Parse(*j.Market)
		if err != nil {
			return nil, fmt.Errorf("parse market: %w", err)
		}
		evt.Market = &marketID
	}
	return evt, nil
}
