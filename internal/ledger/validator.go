package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateMarketConservation verifies that the pool totals recorded on the
// market match the vault balances exactly: yes_pool + no_pool must equal
// the sum of both side vaults at all times.
func (v *InvariantValidator) ValidateMarketConservation(marketID uuid.UUID, assetID AssetID, yesPool, noPool int64) error {
	yesVault := v.tracker.GetVaultBalance(marketID, true, assetID)
	noVault := v.tracker.GetVaultBalance(marketID, false, assetID)

	if yesPool != yesVault {
		return fmt.Errorf("market %s yes pool %d diverged from vault %d", marketID, yesPool, yesVault)
	}
	if noPool != noVault {
		return fmt.Errorf("market %s no pool %d diverged from vault %d", marketID, noPool, noVault)
	}
	return nil
}

// ValidateVaultNonNegative checks neither side vault is overdrawn.
func (v *InvariantValidator) ValidateVaultNonNegative(marketID uuid.UUID, assetID AssetID) error {
	return v.tracker.ValidateVaultNonNegative(marketID, assetID)
}

// ValidateFeeNonNegative checks the per-market fee account is not overdrawn.
func (v *InvariantValidator) ValidateFeeNonNegative(marketID uuid.UUID, assetID AssetID) error {
	return v.tracker.ValidateNonNegative(NewMarketFeeKey(marketID, assetID))
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
