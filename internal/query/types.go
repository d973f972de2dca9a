package query

import "github.com/google/uuid"

// MarketResponse represents a market for API queries.
type MarketResponse struct {
	MarketID       string `json:"market_id"`
	Creator        string `json:"creator"`
	Resolver       string `json:"resolver"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Category       string `json:"category,omitempty"`
	Asset          string `json:"asset"`
	State          string `json:"state"`
	DeadlineUs     int64  `json:"deadline_us"`
	YesPool        int64  `json:"yes_pool"`
	NoPool         int64  `json:"no_pool"`
	TotalYesShares int64  `json:"total_yes_shares"`
	TotalNoShares  int64  `json:"total_no_shares"`
	Volume         int64  `json:"volume"`
	BetCount       int64  `json:"bet_count"`
	Participants   int64  `json:"participants"`

	// Derived at query time from the pools, price scale 1e6.
	YesPrice int64 `json:"yes_price"`
	NoPrice  int64 `json:"no_price"`

	Outcome      *bool `json:"outcome,omitempty"`
	ResolvedAtUs int64 `json:"resolved_at_us,omitempty"`
	Swept        bool  `json:"swept"`
	Version      int64 `json:"version"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// PositionResponse represents a position for API queries.
type PositionResponse struct {
	UserID        uuid.UUID `json:"user_id"`
	MarketID      string    `json:"market_id"`
	YesShares     int64     `json:"yes_shares"`
	NoShares      int64     `json:"no_shares"`
	YesStake      int64     `json:"yes_stake"`
	NoStake       int64     `json:"no_stake"`
	FeePaid       int64     `json:"fee_paid"`
	TotalInvested int64     `json:"total_invested"`
	AvgYesPrice   int64     `json:"avg_yes_price"`
	AvgNoPrice    int64     `json:"avg_no_price"`
	BetCount      int64     `json:"bet_count"`
	Claimed       bool      `json:"claimed"`
	ClaimedAmount int64     `json:"claimed_amount"`
	Version       int64     `json:"version"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
