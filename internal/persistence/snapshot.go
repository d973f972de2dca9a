package persistence

import (
	"PredictLedger/internal/state"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots contain balances, markets, positions, global config, sequence
// counters, the idempotency LRU contents, and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64              `json:"sequence"`
	StateHash       []byte             `json:"state_hash"`
	PrevHash        []byte             `json:"prev_hash"`
	Balances        map[string]int64   `json:"balances"` // AccountPath -> balance
	Markets         []MarketSnapshot   `json:"markets"`
	Positions       []PositionSnapshot `json:"positions"`
	Config          *ConfigSnapshot    `json:"config,omitempty"`
	SequenceState   map[string]int64   `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string           `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time          `json:"created_at"`
}

// MarketSnapshot is a serializable market. Derived addresses (market,
// vaults) are recomputed on restore rather than stored.
type MarketSnapshot struct {
	MarketID               string `json:"market_id"`
	Creator                string `json:"creator"`
	Resolver               string `json:"resolver"`
	Title                  string `json:"title"`
	Description            string `json:"description,omitempty"`
	Category               string `json:"category,omitempty"`
	ExternalRef            string `json:"external_ref,omitempty"`
	AssetKind              int32  `json:"asset_kind"`
	CreatedAt              int64  `json:"created_at"`
	Deadline               int64  `json:"deadline"`
	State                  int32  `json:"state"`
	YesPool                int64  `json:"yes_pool"`
	NoPool                 int64  `json:"no_pool"`
	TotalYesShares         int64  `json:"total_yes_shares"`
	TotalNoShares          int64  `json:"total_no_shares"`
	Volume                 int64  `json:"volume"`
	BetCount               int64  `json:"bet_count"`
	Participants           int64  `json:"participants"`
	Outcome                *bool  `json:"outcome,omitempty"`
	ResolutionData         string `json:"resolution_data,omitempty"`
	ResolvedAt             int64  `json:"resolved_at"`
	ResolvedPool           int64  `json:"resolved_pool"`
	UnclaimedWinningShares int64  `json:"unclaimed_winning_shares"`
	Swept                  bool   `json:"swept"`
	Version                int64  `json:"version"`
}

// PositionSnapshot is a serializable position.
type PositionSnapshot struct {
	UserID        string `json:"user_id"`
	MarketID      string `json:"market_id"`
	YesShares     int64  `json:"yes_shares"`
	NoShares      int64  `json:"no_shares"`
	YesStake      int64  `json:"yes_stake"`
	NoStake       int64  `json:"no_stake"`
	FeePaid       int64  `json:"fee_paid"`
	TotalInvested int64  `json:"total_invested"`
	AvgYesPrice   int64  `json:"avg_yes_price"`
	AvgNoPrice    int64  `json:"avg_no_price"`
	BetCount      int64  `json:"bet_count"`
	Claimed       bool   `json:"claimed"`
	ClaimedAmount int64  `json:"claimed_amount"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
	Version       int64  `json:"version"`
}

// ConfigSnapshot is the serializable program config.
type ConfigSnapshot struct {
	Initialized     bool             `json:"initialized"`
	Authority       string           `json:"authority"`
	FeeBps          int64            `json:"fee_bps"`
	MinDurationSecs int64            `json:"min_duration_secs"`
	MaxDurationSecs int64            `json:"max_duration_secs"`
	MinBet          int64            `json:"min_bet"`
	MaxBet          int64            `json:"max_bet"`
	Paused          bool             `json:"paused"`
	MarketsCreated  int64            `json:"markets_created"`
	BetsPlaced      int64            `json:"bets_placed"`
	VolumeByAsset   map[string]int64 `json:"volume_by_asset,omitempty"`
}

// SnapshotMarket converts a market to its serializable form.
func SnapshotMarket(m *state.Market) MarketSnapshot {
	return MarketSnapshot{
		MarketID:               m.MarketID.String(),
		Creator:                m.Creator.String(),
		Resolver:               m.Resolver.String(),
		Title:                  m.Title,
		Description:            m.Description,
		Category:               m.Category,
		ExternalRef:            m.ExternalRef,
		AssetKind:              int32(m.AssetKind),
		CreatedAt:              m.CreatedAt,
		Deadline:               m.Deadline,
		State:                  int32(m.State),
		YesPool:                m.YesPool,
		NoPool:                 m.NoPool,
		TotalYesShares:         m.TotalYesShares,
		TotalNoShares:          m.TotalNoShares,
		Volume:                 m.Volume,
		BetCount:               m.BetCount,
		Participants:           m.Participants,
		Outcome:                m.Outcome,
		ResolutionData:         m.ResolutionData,
		ResolvedAt:             m.ResolvedAt,
		ResolvedPool:           m.ResolvedPool,
		UnclaimedWinningShares: m.UnclaimedWinningShares,
		Swept:                  m.Swept,
		Version:                m.Version,
	}
}

// RestoreMarket rebuilds a market from its snapshot, re-deriving addresses.
func RestoreMarket(ms MarketSnapshot) (*state.Market, error) {
	marketID, err := uuid.Parse(ms.MarketID)
	if err != nil {
		return nil, fmt.Errorf("parse market_id: %w", err)
	}
	creator, err := uuid.Parse(ms.Creator)
	if err != nil {
		return nil, fmt.Errorf("parse creator: %w", err)
	}
	resolver, err := uuid.Parse(ms.Resolver)
	if err != nil {
		return nil, fmt.Errorf("parse resolver: %w", err)
	}

	addr, bump := state.DeriveMarketAddress(creator, marketID)
	return &state.Market{
		MarketID:               marketID,
		Address:                addr,
		Bump:                   bump,
		Creator:                creator,
		Resolver:               resolver,
		Title:                  ms.Title,
		Description:            ms.Description,
		Category:               ms.Category,
		ExternalRef:            ms.ExternalRef,
		AssetKind:              state.AssetKind(ms.AssetKind),
		YesVault:               state.DeriveVaultAddress(marketID, true),
		NoVault:                state.DeriveVaultAddress(marketID, false),
		CreatedAt:              ms.CreatedAt,
		Deadline:               ms.Deadline,
		State:                  state.MarketState(ms.State),
		YesPool:                ms.YesPool,
		NoPool:                 ms.NoPool,
		TotalYesShares:         ms.TotalYesShares,
		TotalNoShares:          ms.TotalNoShares,
		Volume:                 ms.Volume,
		BetCount:               ms.BetCount,
		Participants:           ms.Participants,
		Outcome:                ms.Outcome,
		ResolutionData:         ms.ResolutionData,
		ResolvedAt:             ms.ResolvedAt,
		ResolvedPool:           ms.ResolvedPool,
		UnclaimedWinningShares: ms.UnclaimedWinningShares,
		Swept:                  ms.Swept,
		Version:                ms.Version,
	}, nil
}

// SnapshotPosition converts a position to its serializable form.
func SnapshotPosition(p *state.Position) PositionSnapshot {
	return PositionSnapshot{
		UserID:        p.UserID.String(),
		MarketID:      p.MarketID.String(),
		YesShares:     p.YesShares,
		NoShares:      p.NoShares,
		YesStake:      p.YesStake,
		NoStake:       p.NoStake,
		FeePaid:       p.FeePaid,
		TotalInvested: p.TotalInvested,
		AvgYesPrice:   p.AvgYesPrice,
		AvgNoPrice:    p.AvgNoPrice,
		BetCount:      p.BetCount,
		Claimed:       p.Claimed,
		ClaimedAmount: p.ClaimedAmount,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		Version:       p.Version,
	}
}

// RestorePosition rebuilds a position from its snapshot.
func RestorePosition(ps PositionSnapshot) (*state.Position, error) {
	userID, err := uuid.Parse(ps.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	marketID, err := uuid.Parse(ps.MarketID)
	if err != nil {
		return nil, fmt.Errorf("parse market_id: %w", err)
	}

	return &state.Position{
		UserID:        userID,
		MarketID:      marketID,
		Address:       state.DerivePositionAddress(userID, marketID),
		YesShares:     ps.YesShares,
		NoShares:      ps.NoShares,
		YesStake:      ps.YesStake,
		NoStake:       ps.NoStake,
		FeePaid:       ps.FeePaid,
		TotalInvested: ps.TotalInvested,
		AvgYesPrice:   ps.AvgYesPrice,
		AvgNoPrice:    ps.AvgNoPrice,
		BetCount:      ps.BetCount,
		Claimed:       ps.Claimed,
		ClaimedAmount: ps.ClaimedAmount,
		CreatedAt:     ps.CreatedAt,
		UpdatedAt:     ps.UpdatedAt,
		Version:       ps.Version,
	}, nil
}

// SnapshotConfig converts the global config to its serializable form.
func SnapshotConfig(c *state.GlobalConfig) *ConfigSnapshot {
	if c == nil {
		return nil
	}
	return &ConfigSnapshot{
		Initialized:     c.Initialized,
		Authority:       c.Authority.String(),
		FeeBps:          c.FeeBps,
		MinDurationSecs: c.MinDurationSecs,
		MaxDurationSecs: c.MaxDurationSecs,
		MinBet:          c.MinBet,
		MaxBet:          c.MaxBet,
		Paused:          c.Paused,
		MarketsCreated:  c.MarketsCreated,
		BetsPlaced:      c.BetsPlaced,
		VolumeByAsset:   c.VolumeByAsset,
	}
}

// RestoreConfig rebuilds the global config from its snapshot.
func RestoreConfig(cs *ConfigSnapshot) (*state.GlobalConfig, error) {
	if cs == nil {
		return nil, nil
	}
	authority, err := uuid.Parse(cs.Authority)
	if err != nil {
		return nil, fmt.Errorf("parse authority: %w", err)
	}
	vol := cs.VolumeByAsset
	if vol == nil {
		vol = make(map[string]int64)
	}
	return &state.GlobalConfig{
		Initialized:     cs.Initialized,
		Authority:       authority,
		FeeBps:          cs.FeeBps,
		MinDurationSecs: cs.MinDurationSecs,
		MaxDurationSecs: cs.MaxDurationSecs,
		MinBet:          cs.MinBet,
		MaxBet:          cs.MaxBet,
		Paused:          cs.Paused,
		MarketsCreated:  cs.MarketsCreated,
		BetsPlaced:      cs.BetsPlaced,
		VolumeByAsset:   vol,
	}, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically (e.g. every 100k events) and verified by replaying events
// from the snapshot sequence forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart, load the latest snapshot then replay events from
// snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay. Used for
// warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
