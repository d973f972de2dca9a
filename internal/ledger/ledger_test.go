package ledger_test

import (
	"testing"

	"PredictLedger/internal/ledger"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserWalletPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewUserWalletKey(userID, assetID)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_VaultPaths(t *testing.T) {
	marketID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	assetID, _ := ledger.GetAssetID("SOL")

	yes := ledger.NewMarketVaultKey(marketID, true, assetID)
	if yes.AccountPath() != "market:11111111-2222-3333-4444-555555555555:yes_vault:SOL" {
		t.Errorf("yes vault path = %q", yes.AccountPath())
	}
	if !yes.IsVault() {
		t.Error("yes vault key should report IsVault")
	}

	no := ledger.NewMarketVaultKey(marketID, false, assetID)
	if no.AccountPath() != "market:11111111-2222-3333-4444-555555555555:no_vault:SOL" {
		t.Errorf("no vault path = %q", no.AccountPath())
	}
	if yes == no {
		t.Error("yes and no vault keys must differ")
	}
}

func TestAccountKey_TreasuryPath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewTreasuryKey(assetID)

	if key.AccountPath() != "system:treasury:USDC" {
		t.Errorf("got %q, want %q", key.AccountPath(), "system:treasury:USDC")
	}
	if key.IsVault() {
		t.Error("treasury is not a vault")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	if id == 0 {
		t.Error("USDC asset ID should be non-zero")
	}

	scale, ok := ledger.GetAssetScale(id)
	if !ok || scale != 1_000_000 {
		t.Errorf("USDC scale = %d, want 1_000_000", scale)
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	if bt.GetMarketVaultTotal(marketID, assetID) != 0 {
		t.Error("initial vault total should be 0")
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	// Bet stake: debit market:yes_vault, credit user:wallet
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewMarketVaultKey(marketID, true, assetID),
		CreditAccount: ledger.NewUserWalletKey(userID, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	if got := bt.GetVaultBalance(marketID, true, assetID); got != 1_000_000 {
		t.Errorf("yes vault: got %d, want 1_000_000", got)
	}
	if got := bt.GetUserWalletBalance(userID, assetID); got != -1_000_000 {
		t.Errorf("wallet: got %d, want -1_000_000", got)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	// Stake then fee then sweep: sum stays zero throughout.
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewMarketVaultKey(marketID, false, assetID),
		CreditAccount: ledger.NewUserWalletKey(userID, assetID),
		AssetID:       assetID,
		Amount:        970_000,
	})
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewMarketFeeKey(marketID, assetID),
		CreditAccount: ledger.NewUserWalletKey(userID, assetID),
		AssetID:       assetID,
		Amount:        30_000,
	})
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewTreasuryKey(assetID),
		CreditAccount: ledger.NewMarketFeeKey(marketID, assetID),
		AssetID:       assetID,
		Amount:        30_000,
	})

	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}
	if bt.GetTreasuryBalance(assetID) != 30_000 {
		t.Errorf("treasury = %d, want 30_000", bt.GetTreasuryBalance(assetID))
	}
}

func TestBalanceTracker_ValidateSufficientVault(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	// Empty vault — should fail
	if err := bt.ValidateSufficientVault(marketID, true, assetID, 100); err == nil {
		t.Error("expected error for empty vault")
	}

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewMarketVaultKey(marketID, true, assetID),
		CreditAccount: ledger.NewUserWalletKey(userID, assetID),
		AssetID:       assetID,
		Amount:        1_000,
	})

	if err := bt.ValidateSufficientVault(marketID, true, assetID, 1_000); err != nil {
		t.Errorf("vault should cover exact balance: %v", err)
	}
	if err := bt.ValidateSufficientVault(marketID, true, assetID, 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewMarketVaultKey(marketID, true, assetID),
		CreditAccount: ledger.NewUserWalletKey(uuid.New(), assetID),
		AssetID:       assetID,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetVaultBalance(marketID, true, assetID) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_NonPositiveAmount_Fails(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")

	for _, amount := range []int64{0, -100} {
		batchID := uuid.New()
		batch := &ledger.Batch{
			BatchID: batchID,
			Journals: []ledger.Journal{
				{
					JournalID:     uuid.New(),
					BatchID:       batchID,
					DebitAccount:  ledger.NewMarketVaultKey(uuid.New(), true, assetID),
					CreditAccount: ledger.NewUserWalletKey(uuid.New(), assetID),
					AssetID:       assetID,
					Amount:        amount,
				},
			},
		}
		if err := batch.Validate(); err == nil {
			t.Errorf("amount %d should fail validation", amount)
		}
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")
	sameAccount := ledger.NewUserWalletKey(uuid.New(), assetID)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.NewMarketVaultKey(uuid.New(), true, assetID),
				CreditAccount: ledger.NewUserWalletKey(uuid.New(), assetID),
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_CrossAssetJournal_Fails(t *testing.T) {
	batchID := uuid.New()
	sol, _ := ledger.GetAssetID("SOL")
	usdc, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewMarketVaultKey(uuid.New(), true, sol),
				CreditAccount: ledger.NewUserWalletKey(uuid.New(), usdc),
				AssetID:       sol,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("cross-asset journal should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerator_BetPlaced_SplitsStakeAndFee(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	userID := uuid.New()
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch, err := jg.GenerateBetPlaced(uuid.New(), userID, marketID, true, 970, 30, assetID, 1_000_000)
	if err != nil {
		t.Fatalf("GenerateBetPlaced: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	if got := bt.GetVaultBalance(marketID, true, assetID); got != 970 {
		t.Errorf("yes vault = %d, want 970", got)
	}
	if got := bt.GetMarketFeeBalance(marketID, assetID); got != 30 {
		t.Errorf("fee account = %d, want 30", got)
	}
	if got := bt.GetUserWalletBalance(userID, assetID); got != -1_000 {
		t.Errorf("wallet = %d, want -1_000", got)
	}
}

func TestGenerator_WinningsClaim_DrainsBothVaults(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	alice := uuid.New()
	bob := uuid.New()
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	// Alice stakes 100 on yes, Bob 100 on no.
	for _, bet := range []struct {
		user uuid.UUID
		yes  bool
	}{{alice, true}, {bob, false}} {
		batch, err := jg.GenerateBetPlaced(uuid.New(), bet.user, marketID, bet.yes, 100, 0, assetID, 1)
		if err != nil {
			t.Fatalf("GenerateBetPlaced: %v", err)
		}
		if err := bt.ApplyBatch(batch); err != nil {
			t.Fatalf("ApplyBatch: %v", err)
		}
	}

	// Yes wins; Alice's 200 payout needs both vaults.
	batch, err := jg.GenerateWinningsClaim("claim-1", alice, marketID, true, 100, 100, assetID, 2)
	if err != nil {
		t.Fatalf("GenerateWinningsClaim: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("expected 2 payout legs, got %d", len(batch.Journals))
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	if got := bt.GetUserWalletBalance(alice, assetID); got != 100 {
		t.Errorf("alice wallet = %d, want +100", got)
	}
	if got := bt.GetMarketVaultTotal(marketID, assetID); got != 0 {
		t.Errorf("vault total = %d, want 0", got)
	}
	if err := bt.ValidateVaultNonNegative(marketID, assetID); err != nil {
		t.Errorf("vaults overdrawn: %v", err)
	}
}

func TestGenerator_WinningsClaim_InsufficientVaults_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	_, err := jg.GenerateWinningsClaim("claim-1", uuid.New(), uuid.New(), true, 300, 200, 2, 1)
	if err == nil {
		t.Error("expected pre-check failure on empty vaults")
	}
}

func TestGenerator_Refund_ReturnsExactGrossStake(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	userID := uuid.New()
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch, err := jg.GenerateBetPlaced(uuid.New(), userID, marketID, true, 48, 2, assetID, 1)
	if err != nil {
		t.Fatalf("GenerateBetPlaced: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	refund, err := jg.GenerateRefund("refund-1", userID, marketID, 48, 0, 2, assetID, 2)
	if err != nil {
		t.Fatalf("GenerateRefund: %v", err)
	}
	if err := bt.ApplyBatch(refund); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	// Wallet back to zero: the full 50 came back, fee included.
	if got := bt.GetUserWalletBalance(userID, assetID); got != 0 {
		t.Errorf("wallet = %d, want 0 after full refund", got)
	}
	if got := bt.GetMarketFeeBalance(marketID, assetID); got != 0 {
		t.Errorf("fee account = %d, want 0 after refund", got)
	}
}

func TestGenerator_DustSweep_MovesResidualToFees(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch, err := jg.GenerateBetPlaced(uuid.New(), uuid.New(), marketID, true, 7, 0, assetID, 1)
	if err != nil {
		t.Fatalf("GenerateBetPlaced: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	sweep, err := jg.GenerateDustSweep("sweep-1", marketID, 7, 0, assetID, 2)
	if err != nil {
		t.Fatalf("GenerateDustSweep: %v", err)
	}
	if err := bt.ApplyBatch(sweep); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	if got := bt.GetMarketVaultTotal(marketID, assetID); got != 0 {
		t.Errorf("vault total = %d, want 0", got)
	}
	if got := bt.GetMarketFeeBalance(marketID, assetID); got != 7 {
		t.Errorf("fee account = %d, want 7", got)
	}
}

func TestGenerator_DustSweep_NothingToSweep(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	sweep, err := jg.GenerateDustSweep("sweep-1", uuid.New(), 0, 0, 2, 1)
	if err != nil {
		t.Fatalf("GenerateDustSweep: %v", err)
	}
	if sweep != nil {
		t.Error("expected nil batch when vaults are empty")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger — should pass
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	assetID, _ := ledger.GetAssetID("USDC")
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewMarketVaultKey(uuid.New(), true, assetID),
		CreditAccount: ledger.NewUserWalletKey(uuid.New(), assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	// Still zero-sum
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}

func TestInvariantValidator_MarketConservation(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	marketID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewMarketVaultKey(marketID, true, assetID),
		CreditAccount: ledger.NewUserWalletKey(uuid.New(), assetID),
		AssetID:       assetID,
		Amount:        500,
	})

	if err := v.ValidateMarketConservation(marketID, assetID, 500, 0); err != nil {
		t.Errorf("pools matching vaults should pass: %v", err)
	}
	if err := v.ValidateMarketConservation(marketID, assetID, 499, 0); err == nil {
		t.Error("diverged yes pool should fail")
	}
	if err := v.ValidateMarketConservation(marketID, assetID, 500, 1); err == nil {
		t.Error("diverged no pool should fail")
	}
}
