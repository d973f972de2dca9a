package query

import (
	"github.com/google/uuid"
)

// BalanceResponse represents user balance state for API queries.
type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Asset  string    `json:"asset"`

	// Ledger balance (from journal entries). Negative for a net staker:
	// wallets start at zero and are debited as stakes move into vaults.
	WalletBalance int64 `json:"wallet_balance"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last applied event sequence
}

// MarketBalancesResponse exposes the ledger accounts backing one market.
// The vault totals must always equal the market's pool totals.
type MarketBalancesResponse struct {
	MarketID string `json:"market_id"`
	Asset    string `json:"asset"`

	YesVault int64 `json:"yes_vault"`
	NoVault  int64 `json:"no_vault"`
	Fees     int64 `json:"fees"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// TreasuryResponse exposes the platform treasury balance per asset.
type TreasuryResponse struct {
	Asset        string `json:"asset"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}
