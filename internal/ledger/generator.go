package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from operations
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(b *Batch, debit, credit AccountKey, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateBetPlaced creates journals for an accepted bet.
// Moves funds: user:wallet → market:{side}_vault (net stake)
//              user:wallet → market:fees (platform fee)
func (jg *JournalGenerator) GenerateBetPlaced(
	betID uuid.UUID,
	userID uuid.UUID,
	marketID uuid.UUID,
	yes bool,
	netStake int64,
	fee int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if netStake <= 0 {
		return nil, fmt.Errorf("bet %s has non-positive net stake %d", betID, netStake)
	}

	batch := jg.newBatch(betID.String(), timestamp, 2)
	wallet := NewUserWalletKey(userID, assetID)

	jg.appendJournal(batch, NewMarketVaultKey(marketID, yes, assetID), wallet, netStake, JournalTypeBetStake)
	if fee > 0 {
		jg.appendJournal(batch, NewMarketFeeKey(marketID, assetID), wallet, fee, JournalTypeBetFee)
	}

	jg.sequence++
	return batch, nil
}

// GenerateWinningsClaim creates journals paying a resolved claim.
// The payout draws on both pools (losers fund winners): the caller splits
// it into a winning-vault leg and a losing-vault leg that mirror its pool
// decrements. Pre-check: each leg must be covered by its vault.
func (jg *JournalGenerator) GenerateWinningsClaim(
	claimRef string,
	userID uuid.UUID,
	marketID uuid.UUID,
	winningSideYes bool,
	fromWinVault int64,
	fromLoseVault int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if fromWinVault < 0 || fromLoseVault < 0 || fromWinVault+fromLoseVault <= 0 {
		return nil, fmt.Errorf("claim %s has invalid payout legs %d/%d", claimRef, fromWinVault, fromLoseVault)
	}

	if fromWinVault > 0 {
		if err := jg.balanceTracker.ValidateSufficientVault(marketID, winningSideYes, assetID, fromWinVault); err != nil {
			return nil, fmt.Errorf("claim pre-check failed: %w", err)
		}
	}
	if fromLoseVault > 0 {
		if err := jg.balanceTracker.ValidateSufficientVault(marketID, !winningSideYes, assetID, fromLoseVault); err != nil {
			return nil, fmt.Errorf("claim pre-check failed: %w", err)
		}
	}

	batch := jg.newBatch(claimRef, timestamp, 2)
	wallet := NewUserWalletKey(userID, assetID)

	if fromWinVault > 0 {
		jg.appendJournal(batch, wallet, NewMarketVaultKey(marketID, winningSideYes, assetID), fromWinVault, JournalTypeWinningsPayout)
	}
	if fromLoseVault > 0 {
		jg.appendJournal(batch, wallet, NewMarketVaultKey(marketID, !winningSideYes, assetID), fromLoseVault, JournalTypeWinningsPayout)
	}

	jg.sequence++
	return batch, nil
}

// GenerateRefund creates journals returning a cancelled-market stake in
// full: net stakes come back from the side vaults and the fee portion from
// the market fee account, so the user recovers exactly what was invested.
func (jg *JournalGenerator) GenerateRefund(
	claimRef string,
	userID uuid.UUID,
	marketID uuid.UUID,
	yesStake int64,
	noStake int64,
	feePaid int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if yesStake < 0 || noStake < 0 || feePaid < 0 {
		return nil, fmt.Errorf("refund %s has negative component", claimRef)
	}
	if yesStake+noStake+feePaid == 0 {
		return nil, fmt.Errorf("refund %s is empty", claimRef)
	}

	// PRE-CHECK: every leg must be covered before any journal is emitted.
	if yesStake > 0 {
		if err := jg.balanceTracker.ValidateSufficientVault(marketID, true, assetID, yesStake); err != nil {
			return nil, fmt.Errorf("refund pre-check failed: %w", err)
		}
	}
	if noStake > 0 {
		if err := jg.balanceTracker.ValidateSufficientVault(marketID, false, assetID, noStake); err != nil {
			return nil, fmt.Errorf("refund pre-check failed: %w", err)
		}
	}
	if feePaid > 0 {
		if err := jg.balanceTracker.ValidateSufficientFees(marketID, assetID, feePaid); err != nil {
			return nil, fmt.Errorf("refund pre-check failed: %w", err)
		}
	}

	batch := jg.newBatch(claimRef, timestamp, 3)
	wallet := NewUserWalletKey(userID, assetID)

	if yesStake > 0 {
		jg.appendJournal(batch, wallet, NewMarketVaultKey(marketID, true, assetID), yesStake, JournalTypeRefundStake)
	}
	if noStake > 0 {
		jg.appendJournal(batch, wallet, NewMarketVaultKey(marketID, false, assetID), noStake, JournalTypeRefundStake)
	}
	if feePaid > 0 {
		jg.appendJournal(batch, wallet, NewMarketFeeKey(marketID, assetID), feePaid, JournalTypeRefundFee)
	}

	jg.sequence++
	return batch, nil
}

// GenerateDustSweep moves residual vault balances into the market fee
// account once no claims remain. Rounding dust is retained by the
// platform, never silently destroyed. Residuals are passed by the caller
// because pending claim journals in the same event are not yet applied.
func (jg *JournalGenerator) GenerateDustSweep(
	sweepRef string,
	marketID uuid.UUID,
	yesResidual int64,
	noResidual int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if yesResidual < 0 || noResidual < 0 {
		return nil, fmt.Errorf("sweep %s has overdrawn residual: yes=%d no=%d", sweepRef, yesResidual, noResidual)
	}
	if yesResidual == 0 && noResidual == 0 {
		return nil, nil
	}

	batch := jg.newBatch(sweepRef, timestamp, 2)
	fees := NewMarketFeeKey(marketID, assetID)

	if yesResidual > 0 {
		jg.appendJournal(batch, fees, NewMarketVaultKey(marketID, true, assetID), yesResidual, JournalTypeDustSweep)
	}
	if noResidual > 0 {
		jg.appendJournal(batch, fees, NewMarketVaultKey(marketID, false, assetID), noResidual, JournalTypeDustSweep)
	}

	jg.sequence++
	return batch, nil
}

// GenerateFeeSweep moves a market's accrued fees to the treasury. The
// amount includes dust swept into the fee account by the same event.
func (jg *JournalGenerator) GenerateFeeSweep(
	sweepRef string,
	marketID uuid.UUID,
	accrued int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if accrued < 0 {
		return nil, fmt.Errorf("sweep %s has overdrawn fee account: %d", sweepRef, accrued)
	}
	if accrued == 0 {
		return nil, nil
	}

	batch := jg.newBatch(sweepRef, timestamp, 1)
	jg.appendJournal(batch, NewTreasuryKey(assetID), NewMarketFeeKey(marketID, assetID), accrued, JournalTypeFeeSweep)

	jg.sequence++
	return batch, nil
}

// GenerateStateOnly creates an empty batch for events that mutate state
// without moving funds. The batch still consumes a sequence so the event
// log and hash chain stay dense.
func (jg *JournalGenerator) GenerateStateOnly(eventRef string, timestamp int64) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 0)
	jg.sequence++
	return batch
}

// Sequence returns the next batch sequence to be assigned.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence aligns the generator after snapshot restore or replay.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}
