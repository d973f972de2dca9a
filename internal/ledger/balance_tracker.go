package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === Vault / Fee Balance Queries ===

// GetVaultBalance returns the pooled balance of one side of a market.
func (bt *BalanceTracker) GetVaultBalance(marketID uuid.UUID, yes bool, assetID AssetID) int64 {
	return bt.GetBalance(NewMarketVaultKey(marketID, yes, assetID))
}

// GetMarketVaultTotal returns the combined balance of both side vaults.
func (bt *BalanceTracker) GetMarketVaultTotal(marketID uuid.UUID, assetID AssetID) int64 {
	return bt.GetVaultBalance(marketID, true, assetID) + bt.GetVaultBalance(marketID, false, assetID)
}

// GetMarketFeeBalance returns the fee accrued for a market and not yet swept.
func (bt *BalanceTracker) GetMarketFeeBalance(marketID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewMarketFeeKey(marketID, assetID))
}

// GetTreasuryBalance returns the swept platform fee total.
func (bt *BalanceTracker) GetTreasuryBalance(assetID AssetID) int64 {
	return bt.GetBalance(NewTreasuryKey(assetID))
}

// GetUserWalletBalance returns the user's boundary-account balance. Negative
// means the user is a net contributor to pools; positive means net receiver.
func (bt *BalanceTracker) GetUserWalletBalance(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserWalletKey(userID, assetID))
}

// === Invariant Checks ===

// ValidateVaultNonNegative checks that neither side vault of a market is overdrawn.
func (bt *BalanceTracker) ValidateVaultNonNegative(marketID uuid.UUID, assetID AssetID) error {
	for _, yes := range []bool{true, false} {
		if err := bt.ValidateNonNegative(NewMarketVaultKey(marketID, yes, assetID)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSufficientVault checks a vault can cover a withdrawal before the
// journal is generated.
func (bt *BalanceTracker) ValidateSufficientVault(marketID uuid.UUID, yes bool, assetID AssetID, required int64) error {
	balance := bt.GetVaultBalance(marketID, yes, assetID)
	if balance < required {
		return fmt.Errorf("insufficient vault balance: have=%d, need=%d", balance, required)
	}
	return nil
}

// ValidateSufficientFees checks the market fee account can cover a refund's
// fee leg or a treasury sweep.
func (bt *BalanceTracker) ValidateSufficientFees(marketID uuid.UUID, assetID AssetID, required int64) error {
	balance := bt.GetMarketFeeBalance(marketID, assetID)
	if balance < required {
		return fmt.Errorf("insufficient fee balance: have=%d, need=%d", balance, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// SetBalance directly sets an account balance (used for snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
