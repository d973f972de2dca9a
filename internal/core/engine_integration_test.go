package core_test

import (
	"errors"
	"testing"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

// --- Test helpers ---

var (
	authority = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	creator   = uuid.MustParse("00000000-0000-0000-0000-0000000000cc")
	resolver  = uuid.MustParse("00000000-0000-0000-0000-0000000000ee")
	alice     = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	bob       = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	carol     = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

var (
	baseTime = time.UnixMicro(1_000_000_000)
	deadline = baseTime.Add(time.Hour)
	afterEnd = deadline.Add(time.Minute)
)

// coreEnv wraps a DeterministicCore with per-partition source sequence
// bookkeeping, mirroring what the ingestion gateway does.
type coreEnv struct {
	core    *core.DeterministicCore
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
	seqs    map[string]int64
}

func newCoreEnv() *coreEnv {
	persistChan := make(chan core.CoreOutput, 4096)
	projChan := make(chan core.CoreOutput, 4096)
	return &coreEnv{
		core:    core.NewDeterministicCore(0, persistChan, projChan, nil, nil),
		persist: persistChan,
		proj:    projChan,
		seqs:    make(map[string]int64),
	}
}

func (e *coreEnv) nextSeq(partition string) int64 {
	s := e.seqs[partition]
	e.seqs[partition] = s + 1
	return s
}

func marketPartition(marketID uuid.UUID) string {
	return "market:" + marketID.String()
}

func (e *coreEnv) initProgram(feeBps int64) error {
	return e.core.ProcessEvent(&event.InitializeProgram{
		OpID:            uuid.New(),
		Authority:       authority,
		FeeBps:          feeBps,
		MinDurationSecs: 60,
		MaxDurationSecs: 30 * 86400,
		MinBet:          1,
		MaxBet:          1_000_000_000_000,
		Sequence:        e.nextSeq("global"),
		Timestamp:       baseTime,
	})
}

func (e *coreEnv) createMarket(marketID uuid.UUID) error {
	return e.core.ProcessEvent(&event.CreateMarket{
		OpID:      uuid.New(),
		Market:    marketID,
		Creator:   creator,
		Resolver:  resolver,
		Title:     "Will it rain in Hanoi tomorrow?",
		Category:  "weather",
		Asset:     "stable",
		Deadline:  deadline,
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: baseTime,
	})
}

func (e *coreEnv) placeBet(userID, marketID uuid.UUID, side event.Side, amount, maxPrice int64) error {
	return e.core.ProcessEvent(&event.PlaceBet{
		BetID:     uuid.New(),
		UserID:    userID,
		Market:    marketID,
		BetSide:   side,
		Amount:    amount,
		MaxPrice:  maxPrice,
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: baseTime.Add(time.Minute),
	})
}

func (e *coreEnv) resolve(signer uuid.UUID, marketID uuid.UUID, outcome bool, at time.Time) error {
	return e.core.ProcessEvent(&event.ResolveMarket{
		OpID:           uuid.New(),
		Market:         marketID,
		Signer:         signer,
		Outcome:        outcome,
		ResolutionData: "observed by resolver",
		Sequence:       e.nextSeq(marketPartition(marketID)),
		Timestamp:      at,
	})
}

func (e *coreEnv) cancel(signer uuid.UUID, marketID uuid.UUID) error {
	return e.core.ProcessEvent(&event.CancelMarket{
		OpID:      uuid.New(),
		Market:    marketID,
		Signer:    signer,
		Reason:    "event called off",
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: baseTime.Add(30 * time.Minute),
	})
}

func (e *coreEnv) claimWinnings(userID, marketID uuid.UUID) error {
	return e.core.ProcessEvent(&event.ClaimWinnings{
		ClaimID:   uuid.New(),
		UserID:    userID,
		Market:    marketID,
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: afterEnd,
	})
}

func (e *coreEnv) claimRefund(userID, marketID uuid.UUID) error {
	return e.core.ProcessEvent(&event.ClaimRefund{
		ClaimID:   uuid.New(),
		UserID:    userID,
		Market:    marketID,
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: baseTime.Add(45 * time.Minute),
	})
}

func (e *coreEnv) pause(signer uuid.UUID, marketID *uuid.UUID, pause bool) error {
	partition := "global"
	if marketID != nil {
		partition = marketPartition(*marketID)
	}
	return e.core.ProcessEvent(&event.EmergencyPause{
		OpID:      uuid.New(),
		Signer:    signer,
		Market:    marketID,
		Pause:     pause,
		Sequence:  e.nextSeq(partition),
		Timestamp: baseTime.Add(10 * time.Minute),
	})
}

// initWithMarket is the common setup: program initialized, one stable-asset
// market open for bets.
func initWithMarket(t *testing.T, feeBps int64) (*coreEnv, uuid.UUID) {
	t.Helper()
	e := newCoreEnv()
	marketID := uuid.New()
	if err := e.initProgram(feeBps); err != nil {
		t.Fatalf("initProgram: %v", err)
	}
	if err := e.createMarket(marketID); err != nil {
		t.Fatalf("createMarket: %v", err)
	}
	return e, marketID
}

func stableAsset(t *testing.T) ledger.AssetID {
	t.Helper()
	assetID, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("stable asset not registered")
	}
	return assetID
}

// ============================================================================
// Test: Program Initialization
// ============================================================================

func TestInitializeProgram(t *testing.T) {
	e := newCoreEnv()

	if err := e.initProgram(250); err != nil {
		t.Fatalf("initProgram: %v", err)
	}

	cfg := e.core.GetConfig()
	if cfg == nil || !cfg.Initialized {
		t.Fatal("config not initialized")
	}
	if cfg.Authority != authority {
		t.Errorf("authority = %s, want %s", cfg.Authority, authority)
	}
	if cfg.FeeBps != 250 {
		t.Errorf("fee_bps = %d, want 250", cfg.FeeBps)
	}

	// Second initialization with a fresh op id must be rejected.
	if err := e.initProgram(500); !errors.Is(err, core.ErrAlreadyInitialized) {
		t.Errorf("second init: got %v, want ErrAlreadyInitialized", err)
	}
	if e.core.GetConfig().FeeBps != 250 {
		t.Error("rejected init mutated the config")
	}
}

func TestCreateMarket_RequiresInitialization(t *testing.T) {
	e := newCoreEnv()

	err := e.createMarket(uuid.New())
	if !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
}

// ============================================================================
// Test: Market Creation
// ============================================================================

func TestCreateMarket_DoubleCreateFails(t *testing.T) {
	e, marketID := initWithMarket(t, 250)

	if err := e.createMarket(marketID); !errors.Is(err, core.ErrAlreadyInitialized) {
		t.Errorf("got %v, want ErrAlreadyInitialized", err)
	}
}

func TestCreateMarket_DeadlineBounds(t *testing.T) {
	e := newCoreEnv()
	if err := e.initProgram(250); err != nil {
		t.Fatalf("initProgram: %v", err)
	}

	marketID := uuid.New()
	err := e.core.ProcessEvent(&event.CreateMarket{
		OpID:      uuid.New(),
		Market:    marketID,
		Creator:   creator,
		Resolver:  resolver,
		Title:     "Too short",
		Asset:     "stable",
		Deadline:  baseTime.Add(10 * time.Second),
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: baseTime,
	})
	if !errors.Is(err, core.ErrInvalidDeadline) {
		t.Errorf("got %v, want ErrInvalidDeadline", err)
	}
}

// ============================================================================
// Test: Bet Placement
// ============================================================================

func TestPlaceBet_MovesFundsAndMintsShares(t *testing.T) {
	e, marketID := initWithMarket(t, 250)
	assetID := stableAsset(t)

	if err := e.placeBet(alice, marketID, event.SideYes, 1_000_000, fpmath.PriceScale); err != nil {
		t.Fatalf("placeBet: %v", err)
	}

	// 2.5% fee rounds up to 25_000; 975_000 enters the yes pool at the
	// empty-market mid price of 0.50, minting 1_950_000 shares.
	m := e.core.GetMarket(marketID)
	if m.YesPool != 975_000 {
		t.Errorf("yes pool = %d, want 975000", m.YesPool)
	}
	if m.TotalYesShares != 1_950_000 {
		t.Errorf("yes shares = %d, want 1950000", m.TotalYesShares)
	}

	pos := e.core.GetPosition(alice, marketID)
	if pos == nil {
		t.Fatal("position not created")
	}
	if pos.YesShares != 1_950_000 {
		t.Errorf("position shares = %d, want 1950000", pos.YesShares)
	}
	if pos.TotalInvested != 1_000_000 {
		t.Errorf("total invested = %d, want 1000000", pos.TotalInvested)
	}
	if pos.FeePaid != 25_000 {
		t.Errorf("fee paid = %d, want 25000", pos.FeePaid)
	}

	if got := e.core.GetBalance(ledger.NewMarketVaultKey(marketID, true, assetID)); got != 975_000 {
		t.Errorf("yes vault = %d, want 975000", got)
	}
	if got := e.core.GetBalance(ledger.NewMarketFeeKey(marketID, assetID)); got != 25_000 {
		t.Errorf("fee account = %d, want 25000", got)
	}
	if got := e.core.GetBalance(ledger.NewUserWalletKey(alice, assetID)); got != -1_000_000 {
		t.Errorf("alice wallet = %d, want -1000000", got)
	}
}

func TestPlaceBet_DiminishingShares(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.placeBet(alice, marketID, event.SideYes, 1_000_000, fpmath.PriceScale); err != nil {
		t.Fatalf("first bet: %v", err)
	}
	firstShares := e.core.GetPosition(alice, marketID).YesShares

	if err := e.placeBet(bob, marketID, event.SideYes, 1_000_000, fpmath.PriceScale); err != nil {
		t.Fatalf("second bet: %v", err)
	}
	secondShares := e.core.GetPosition(bob, marketID).YesShares

	// Same stake on the same side after the pool grew must mint fewer shares.
	if secondShares >= firstShares {
		t.Errorf("second bet minted %d shares, first minted %d; want strictly fewer", secondShares, firstShares)
	}
}

func TestPlaceBet_SlippageRejected(t *testing.T) {
	e, marketID := initWithMarket(t, 0)
	assetID := stableAsset(t)

	if err := e.placeBet(alice, marketID, event.SideYes, 1_000_000, fpmath.PriceScale); err != nil {
		t.Fatalf("setup bet: %v", err)
	}

	// Yes is now expensive; bob insists on at most 0.40.
	err := e.placeBet(bob, marketID, event.SideYes, 1_000_000, 400_000)
	if !errors.Is(err, core.ErrSlippageExceeded) {
		t.Fatalf("got %v, want ErrSlippageExceeded", err)
	}

	// The rejection must leave no trace.
	if got := e.core.GetBalance(ledger.NewUserWalletKey(bob, assetID)); got != 0 {
		t.Errorf("bob wallet = %d, want 0", got)
	}
	if got := e.core.GetMarket(marketID).BetCount; got != 1 {
		t.Errorf("bet count = %d, want 1", got)
	}
	if pos := e.core.GetPosition(bob, marketID); pos != nil {
		t.Error("rejected bet created a position")
	}
}

func TestPlaceBet_BetBounds(t *testing.T) {
	e := newCoreEnv()
	marketID := uuid.New()
	if err := e.core.ProcessEvent(&event.InitializeProgram{
		OpID:            uuid.New(),
		Authority:       authority,
		FeeBps:          0,
		MinDurationSecs: 60,
		MaxDurationSecs: 30 * 86400,
		MinBet:          1_000,
		MaxBet:          1_000_000,
		Sequence:        e.nextSeq("global"),
		Timestamp:       baseTime,
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := e.createMarket(marketID); err != nil {
		t.Fatalf("createMarket: %v", err)
	}

	if err := e.placeBet(alice, marketID, event.SideYes, 999, fpmath.PriceScale); !errors.Is(err, core.ErrBetTooSmall) {
		t.Errorf("below min: got %v, want ErrBetTooSmall", err)
	}
	if err := e.placeBet(alice, marketID, event.SideYes, 1_000_001, fpmath.PriceScale); !errors.Is(err, core.ErrBetTooLarge) {
		t.Errorf("above max: got %v, want ErrBetTooLarge", err)
	}
	if err := e.placeBet(alice, marketID, event.SideYes, 1_000, fpmath.PriceScale); err != nil {
		t.Errorf("at min: %v", err)
	}
}

// ============================================================================
// Test: Pause Semantics
// ============================================================================

func TestEmergencyPause_MarketAndGlobal(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	// Market pause blocks bets on that market only.
	if err := e.pause(authority, &marketID, true); err != nil {
		t.Fatalf("pause market: %v", err)
	}
	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); !errors.Is(err, core.ErrMarketPaused) {
		t.Errorf("bet on paused market: got %v, want ErrMarketPaused", err)
	}

	// Resume restores betting.
	if err := e.pause(authority, &marketID, false); err != nil {
		t.Fatalf("resume market: %v", err)
	}
	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Errorf("bet after resume: %v", err)
	}

	// Global pause blocks everything.
	if err := e.pause(authority, nil, true); err != nil {
		t.Fatalf("global pause: %v", err)
	}
	if err := e.placeBet(bob, marketID, event.SideNo, 100, fpmath.PriceScale); !errors.Is(err, core.ErrProgramPaused) {
		t.Errorf("bet under global pause: got %v, want ErrProgramPaused", err)
	}
}

func TestEmergencyPause_Unauthorized(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.pause(alice, &marketID, true); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	if got := e.core.GetMarket(marketID).State; got != state.MarketStateActive {
		t.Errorf("market state = %s, want Active", got)
	}
}

func TestEmergencyPause_ResolutionStaysLegal(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := e.pause(authority, &marketID, true); err != nil {
		t.Fatalf("pause market: %v", err)
	}

	// A pause freezes betting but never strands a market: the resolver can
	// still settle it.
	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve paused market: %v", err)
	}
	m := e.core.GetMarket(marketID)
	if m.State != state.MarketStateResolved {
		t.Errorf("market state = %s, want Resolved", m.State)
	}
	if m.Outcome == nil || *m.Outcome != true {
		t.Error("outcome not recorded on paused-market resolution")
	}
}

func TestEmergencyPause_ClaimsStayLegal(t *testing.T) {
	e, marketID := initWithMarket(t, 0)
	assetID := stableAsset(t)

	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := e.pause(authority, nil, true); err != nil {
		t.Fatalf("global pause: %v", err)
	}

	// Winners can always exit, even with the whole program halted.
	if err := e.claimWinnings(alice, marketID); err != nil {
		t.Fatalf("claim under global pause: %v", err)
	}
	if got := e.core.GetBalance(ledger.NewUserWalletKey(alice, assetID)); got != 0 {
		t.Errorf("alice wallet = %d, want 0 (staked 100, claimed 100)", got)
	}
}

// ============================================================================
// Test: Resolution
// ============================================================================

func TestResolve_Unauthorized(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	err := e.resolve(creator, marketID, true, afterEnd)
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	if got := e.core.GetMarket(marketID).State; got != state.MarketStateActive {
		t.Errorf("market state = %s, want Active after rejected resolve", got)
	}
}

func TestResolve_BeforeDeadline(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	err := e.resolve(resolver, marketID, true, baseTime.Add(time.Minute))
	if !errors.Is(err, core.ErrDeadlineNotReached) {
		t.Errorf("got %v, want ErrDeadlineNotReached", err)
	}
}

func TestResolve_OutcomeImmutable(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A second distinct resolve attempt, even by the resolver with the
	// opposite outcome, must fail and leave the outcome untouched.
	err := e.resolve(resolver, marketID, false, afterEnd)
	if !errors.Is(err, core.ErrMarketAlreadyResolved) {
		t.Fatalf("got %v, want ErrMarketAlreadyResolved", err)
	}
	m := e.core.GetMarket(marketID)
	if m.Outcome == nil || *m.Outcome != true {
		t.Error("outcome mutated by rejected second resolve")
	}
}

// ============================================================================
// Test: Resolution Payout (two-sided market)
// ============================================================================

func TestResolutionPayout_WinnerCollectsPool(t *testing.T) {
	e, marketID := initWithMarket(t, 0)
	assetID := stableAsset(t)

	// Alice stakes 100 on yes at mid price; bob stakes 100 on no.
	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("alice bet: %v", err)
	}
	if err := e.placeBet(bob, marketID, event.SideNo, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bob bet: %v", err)
	}

	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := e.claimWinnings(alice, marketID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Alice holds all winning shares: the full 200-unit pool is hers.
	pos := e.core.GetPosition(alice, marketID)
	if pos.ClaimedAmount != 200 {
		t.Errorf("claimed = %d, want 200", pos.ClaimedAmount)
	}
	if got := e.core.GetBalance(ledger.NewUserWalletKey(alice, assetID)); got != 100 {
		t.Errorf("alice wallet = %d, want +100", got)
	}
	if got := e.core.GetBalance(ledger.NewUserWalletKey(bob, assetID)); got != -100 {
		t.Errorf("bob wallet = %d, want -100", got)
	}

	// Last claim sweeps the market: vaults empty, nothing left behind.
	m := e.core.GetMarket(marketID)
	if !m.Swept {
		t.Error("market not swept after last claim")
	}
	if got := e.core.GetBalance(ledger.NewMarketVaultKey(marketID, true, assetID)); got != 0 {
		t.Errorf("yes vault = %d, want 0", got)
	}
	if got := e.core.GetBalance(ledger.NewMarketVaultKey(marketID, false, assetID)); got != 0 {
		t.Errorf("no vault = %d, want 0", got)
	}
}

func TestClaim_DoubleClaimRejected(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := e.claimWinnings(alice, marketID); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// A second claim with a fresh claim id reaches the engine and fails.
	if err := e.claimWinnings(alice, marketID); !errors.Is(err, core.ErrAlreadyClaimed) {
		t.Errorf("got %v, want ErrAlreadyClaimed", err)
	}
}

func TestClaim_LoserHasNothingToClaim(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("alice bet: %v", err)
	}
	if err := e.placeBet(bob, marketID, event.SideNo, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bob bet: %v", err)
	}
	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := e.claimWinnings(bob, marketID); !errors.Is(err, core.ErrNothingToClaim) {
		t.Errorf("got %v, want ErrNothingToClaim", err)
	}
	if err := e.claimWinnings(carol, marketID); !errors.Is(err, core.ErrNothingToClaim) {
		t.Errorf("no position: got %v, want ErrNothingToClaim", err)
	}
}

func TestResolve_NoWinningShares_SweepsPoolToTreasury(t *testing.T) {
	e, marketID := initWithMarket(t, 250)
	assetID := stableAsset(t)

	// Only the no side is held; market resolves yes.
	if err := e.placeBet(bob, marketID, event.SideNo, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// 100 gross = 3 fee (rounded up) + 97 stake; all of it reaches the
	// treasury because nothing is claimable.
	m := e.core.GetMarket(marketID)
	if !m.Swept {
		t.Error("market not swept at resolution")
	}
	if got := e.core.GetBalance(ledger.NewTreasuryKey(assetID)); got != 100 {
		t.Errorf("treasury = %d, want 100", got)
	}
	if got := e.core.GetBalance(ledger.NewMarketVaultKey(marketID, false, assetID)); got != 0 {
		t.Errorf("no vault = %d, want 0", got)
	}
	if got := e.core.GetBalance(ledger.NewMarketFeeKey(marketID, assetID)); got != 0 {
		t.Errorf("fee account = %d, want 0", got)
	}
}

// ============================================================================
// Test: Cancellation & Refunds
// ============================================================================

func TestCancelRefund_ReturnsExactGrossStake(t *testing.T) {
	e, marketID := initWithMarket(t, 250)
	assetID := stableAsset(t)

	// 50 gross = 2 fee (rounded up) + 48 stake.
	if err := e.placeBet(alice, marketID, event.SideYes, 50, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := e.cancel(creator, marketID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := e.claimRefund(alice, marketID); err != nil {
		t.Fatalf("refund: %v", err)
	}

	// The refund is the exact gross amount, fee included.
	if got := e.core.GetBalance(ledger.NewUserWalletKey(alice, assetID)); got != 0 {
		t.Errorf("alice wallet = %d, want 0 after full refund", got)
	}
	if got := e.core.GetPosition(alice, marketID).ClaimedAmount; got != 50 {
		t.Errorf("claimed = %d, want 50", got)
	}
	if got := e.core.GetBalance(ledger.NewMarketFeeKey(marketID, assetID)); got != 0 {
		t.Errorf("fee account = %d, want 0 after fee leg refunded", got)
	}

	if err := e.claimRefund(alice, marketID); !errors.Is(err, core.ErrAlreadyClaimed) {
		t.Errorf("second refund: got %v, want ErrAlreadyClaimed", err)
	}
}

func TestCancel_Unauthorized(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.cancel(alice, marketID); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestClaimWinnings_OnCancelledMarketRejected(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := e.cancel(creator, marketID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := e.claimWinnings(alice, marketID); !errors.Is(err, core.ErrMarketNotResolved) {
		t.Errorf("got %v, want ErrMarketNotResolved", err)
	}
	if err := e.claimRefund(alice, marketID); err != nil {
		t.Errorf("refund after rejected winnings claim: %v", err)
	}
}

func TestRefund_OnResolvedMarketRejected(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := e.claimRefund(alice, marketID); !errors.Is(err, core.ErrMarketNotCancelled) {
		t.Errorf("got %v, want ErrMarketNotCancelled", err)
	}
}

// ============================================================================
// Test: Conservation
// ============================================================================

func TestConservation_AcrossBetsAndClaims(t *testing.T) {
	e, marketID := initWithMarket(t, 250)
	assetID := stableAsset(t)

	users := []uuid.UUID{alice, bob, carol}
	for i := 0; i < 21; i++ {
		side := event.SideYes
		if i%2 == 1 {
			side = event.SideNo
		}
		if err := e.placeBet(users[i%3], marketID, side, int64(1_000+i*37), fpmath.PriceScale); err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}

		// Pool totals must track vault balances exactly after every bet.
		m := e.core.GetMarket(marketID)
		yesVault := e.core.GetBalance(ledger.NewMarketVaultKey(marketID, true, assetID))
		noVault := e.core.GetBalance(ledger.NewMarketVaultKey(marketID, false, assetID))
		if m.YesPool != yesVault || m.NoPool != noVault {
			t.Fatalf("bet %d: pools (%d, %d) diverged from vaults (%d, %d)",
				i, m.YesPool, m.NoPool, yesVault, noVault)
		}
	}

	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, u := range users {
		if err := e.claimWinnings(u, marketID); err != nil {
			t.Fatalf("claim %s: %v", u, err)
		}
	}

	// Ledger-wide zero sum: every unit in an account is matched elsewhere.
	snap := e.core.CreateSnapshotState()
	totals := make(map[ledger.AssetID]int64)
	for key, bal := range snap.Balances {
		totals[key.AssetID] += bal
	}
	for asset, total := range totals {
		if total != 0 {
			t.Errorf("asset %d global balance = %d, want 0", asset, total)
		}
	}

	// After the last claim everything was swept: vaults and fee account
	// empty, dust and fees in the treasury.
	if got := e.core.GetBalance(ledger.NewMarketVaultKey(marketID, true, assetID)); got != 0 {
		t.Errorf("yes vault = %d, want 0", got)
	}
	if got := e.core.GetBalance(ledger.NewMarketVaultKey(marketID, false, assetID)); got != 0 {
		t.Errorf("no vault = %d, want 0", got)
	}
	if got := e.core.GetBalance(ledger.NewMarketFeeKey(marketID, assetID)); got != 0 {
		t.Errorf("fee account = %d, want 0", got)
	}
	if got := e.core.GetBalance(ledger.NewTreasuryKey(assetID)); got <= 0 {
		t.Errorf("treasury = %d, want > 0", got)
	}
}

// ============================================================================
// Test: Idempotency & Ordering
// ============================================================================

func TestIdempotentRedelivery(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	evt := &event.PlaceBet{
		BetID:     uuid.New(),
		UserID:    alice,
		Market:    marketID,
		BetSide:   event.SideYes,
		Amount:    1_000,
		MaxPrice:  fpmath.PriceScale,
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: baseTime.Add(time.Minute),
	}
	if err := e.core.ProcessEvent(evt); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// Redelivery of the same event (same bet id, same source sequence) is
	// absorbed silently with no state change.
	if err := e.core.ProcessEvent(evt); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := e.core.GetMarket(marketID).BetCount; got != 1 {
		t.Errorf("bet count = %d, want 1 after redelivery", got)
	}
}

func TestSequenceGap_Rejected(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	err := e.core.ProcessEvent(&event.PlaceBet{
		BetID:     uuid.New(),
		UserID:    alice,
		Market:    marketID,
		BetSide:   event.SideYes,
		Amount:    1_000,
		MaxPrice:  fpmath.PriceScale,
		Sequence:  e.seqs[marketPartition(marketID)] + 5, // gap
		Timestamp: baseTime.Add(time.Minute),
	})
	if err == nil {
		t.Fatal("expected sequence gap rejection")
	}
	if got := e.core.GetMarket(marketID).BetCount; got != 0 {
		t.Errorf("bet count = %d, want 0", got)
	}
}

// ============================================================================
// Test: Hash Chain & Snapshot Restore
// ============================================================================

func TestHashChain_AdvancesPerEvent(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	h1 := e.core.GetStateHash()
	if err := e.placeBet(alice, marketID, event.SideYes, 1_000, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	h2 := e.core.GetStateHash()
	if h1 == h2 {
		t.Error("state hash did not advance after bet")
	}

	// State-only events move the chain too.
	if err := e.pause(authority, &marketID, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if h3 := e.core.GetStateHash(); h3 == h2 {
		t.Error("state hash did not advance after pause")
	}
}

func TestEnvelopes_LinkToPredecessor(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.placeBet(alice, marketID, event.SideYes, 1_000, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}

	var outs []core.CoreOutput
	for len(e.persist) > 0 {
		outs = append(outs, <-e.persist)
	}
	if len(outs) != 3 {
		t.Fatalf("persisted outputs = %d, want 3", len(outs))
	}

	// Each envelope must carry its predecessor's state hash, not its own.
	for i, out := range outs {
		env := out.Envelope
		if env.PrevHash == env.StateHash {
			t.Errorf("envelope %d: prev hash equals own state hash", i)
		}
		if i > 0 && env.PrevHash != outs[i-1].Envelope.StateHash {
			t.Errorf("envelope %d: prev hash does not match predecessor's state hash", i)
		}
	}
	if last := outs[len(outs)-1].Envelope.StateHash; last != e.core.GetStateHash() {
		t.Error("last envelope's state hash is not the chain tip")
	}
}

func TestReplayMode_RebuildsStateDespiteLoggedEvents(t *testing.T) {
	checker := &loggedEventChecker{}
	persistChan := make(chan core.CoreOutput, 64)
	projChan := make(chan core.CoreOutput, 64)
	e := &coreEnv{
		core:    core.NewDeterministicCore(0, persistChan, projChan, checker, nil),
		persist: persistChan,
		proj:    projChan,
		seqs:    make(map[string]int64),
	}
	marketID := uuid.New()

	// On a cold restart every event fed back from the log is, by definition,
	// already in the log. Replay mode must not let the cold-path dedup
	// classify the stream as duplicates of itself.
	e.core.SetReplayMode(true)
	if err := e.initProgram(250); err != nil {
		t.Fatalf("replayed init: %v", err)
	}
	if err := e.createMarket(marketID); err != nil {
		t.Fatalf("replayed create: %v", err)
	}
	e.core.SetReplayMode(false)

	if cfg := e.core.GetConfig(); cfg == nil || !cfg.Initialized {
		t.Fatal("replay did not rebuild config")
	}
	if e.core.GetMarket(marketID) == nil {
		t.Fatal("replay did not rebuild market")
	}
	if got := e.core.GetSequence(); got != 2 {
		t.Errorf("sequence = %d, want 2 after replaying two events", got)
	}
	if checker.calls != 0 {
		t.Errorf("cold-path dedup consulted %d times during replay, want 0", checker.calls)
	}

	// Replayed events are already persisted; nothing may be re-emitted.
	if got := len(persistChan); got != 0 {
		t.Errorf("outputs emitted during replay = %d, want 0", got)
	}

	// Live traffic goes back through the cold path: an event the log already
	// holds is absorbed without touching state.
	if err := e.placeBet(alice, marketID, event.SideYes, 1_000, fpmath.PriceScale); err != nil {
		t.Fatalf("live duplicate: %v", err)
	}
	if checker.calls == 0 {
		t.Error("cold-path dedup not consulted after replay ended")
	}
	if got := e.core.GetMarket(marketID).BetCount; got != 0 {
		t.Errorf("bet count = %d, want 0 for a logged duplicate", got)
	}
}

// loggedEventChecker simulates a log that already contains every event.
type loggedEventChecker struct {
	calls int
}

func (c *loggedEventChecker) IsDuplicate(eventType, idempotencyKey string) (bool, error) {
	c.calls++
	return true, nil
}

func TestSnapshotRestore_JournalSequenceMatchesEnvelope(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	if err := e.placeBet(alice, marketID, event.SideYes, 1_000, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	snap := e.core.CreateSnapshotState()

	restored := newCoreEnv()
	restored.core.RestoreFromSnapshot(snap)
	restored.core.WarmLRU(snap.IdempotencyKeys)
	restored.seqs = e.seqs

	if err := restored.placeBet(bob, marketID, event.SideNo, 1_000, fpmath.PriceScale); err != nil {
		t.Fatalf("bet after restore: %v", err)
	}

	// The first post-restore batch must carry the same sequence as its
	// envelope, picking up right after the snapshot.
	out := <-restored.persist
	if out.Batch.Sequence != out.Envelope.Sequence {
		t.Errorf("batch sequence = %d, envelope sequence = %d; want equal",
			out.Batch.Sequence, out.Envelope.Sequence)
	}
	if out.Envelope.Sequence != snap.Sequence+1 {
		t.Errorf("envelope sequence = %d, want %d", out.Envelope.Sequence, snap.Sequence+1)
	}
}

func TestSnapshotRestore_ResumesProcessing(t *testing.T) {
	e, marketID := initWithMarket(t, 0)
	assetID := stableAsset(t)

	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := e.resolve(resolver, marketID, true, afterEnd); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	snap := e.core.CreateSnapshotState()

	// Fresh core restored from the snapshot continues where the old one
	// stopped, with the same hash chain tip and sequence state.
	restored := newCoreEnv()
	restored.core.RestoreFromSnapshot(snap)
	restored.core.WarmLRU(snap.IdempotencyKeys)
	restored.seqs = e.seqs

	if got := restored.core.GetStateHash(); got != snap.StateHash {
		t.Error("restored hash chain tip differs from snapshot")
	}

	if err := restored.claimWinnings(alice, marketID); err != nil {
		t.Fatalf("claim after restore: %v", err)
	}
	if got := restored.core.GetBalance(ledger.NewUserWalletKey(alice, assetID)); got != 0 {
		t.Errorf("alice wallet = %d, want 0 (staked 100, claimed 100)", got)
	}
}

// ============================================================================
// Test: Market Updates
// ============================================================================

func TestUpdateMarket(t *testing.T) {
	e, marketID := initWithMarket(t, 0)

	newTitle := "Will it rain in Hanoi on Sunday?"
	if err := e.core.ProcessEvent(&event.UpdateMarket{
		OpID:      uuid.New(),
		Market:    marketID,
		Signer:    creator,
		Title:     &newTitle,
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: baseTime.Add(time.Minute),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := e.core.GetMarket(marketID).Title; got != newTitle {
		t.Errorf("title = %q, want %q", got, newTitle)
	}

	// Non-creator cannot edit.
	if err := e.core.ProcessEvent(&event.UpdateMarket{
		OpID:      uuid.New(),
		Market:    marketID,
		Signer:    alice,
		Title:     &newTitle,
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: baseTime.Add(time.Minute),
	}); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}

	// Deadline is frozen once money is at risk.
	if err := e.placeBet(alice, marketID, event.SideYes, 100, fpmath.PriceScale); err != nil {
		t.Fatalf("bet: %v", err)
	}
	newDeadline := baseTime.Add(2 * time.Hour)
	if err := e.core.ProcessEvent(&event.UpdateMarket{
		OpID:      uuid.New(),
		Market:    marketID,
		Signer:    creator,
		Deadline:  &newDeadline,
		Sequence:  e.nextSeq(marketPartition(marketID)),
		Timestamp: baseTime.Add(2 * time.Minute),
	}); !errors.Is(err, core.ErrInvalidDeadline) {
		t.Errorf("got %v, want ErrInvalidDeadline", err)
	}
}
