package math_test

import (
	"testing"

	"PredictLedger/internal/math"
)

// ============================================================================
// Test: Implied Price
// ============================================================================

func TestImpliedPrice_EmptyMarket(t *testing.T) {
	got, err := math.ImpliedPrice(0, 0, 0)
	if err != nil {
		t.Fatalf("ImpliedPrice: %v", err)
	}
	if got != math.MidPrice {
		t.Errorf("empty market price = %d, want %d", got, math.MidPrice)
	}
}

func TestImpliedPrice_Balanced(t *testing.T) {
	got, err := math.ImpliedPrice(1000, 1000, 1000)
	if err != nil {
		t.Fatalf("ImpliedPrice: %v", err)
	}
	if got != math.MidPrice {
		t.Errorf("balanced price = %d, want %d", got, math.MidPrice)
	}
}

func TestImpliedPrice_LopsidedSideIsExpensive(t *testing.T) {
	// Buying into the heavy side costs more than the mid price.
	heavy, err := math.ImpliedPrice(3000, 3000, 1000)
	if err != nil {
		t.Fatalf("ImpliedPrice: %v", err)
	}
	light, err := math.ImpliedPrice(1000, 3000, 1000)
	if err != nil {
		t.Fatalf("ImpliedPrice: %v", err)
	}
	if heavy != 750_000 {
		t.Errorf("heavy side price = %d, want 750000", heavy)
	}
	if light != 250_000 {
		t.Errorf("light side price = %d, want 250000", light)
	}
	if heavy <= math.MidPrice || light >= math.MidPrice {
		t.Error("lopsided prices must straddle the mid price")
	}
}

func TestImpliedPrice_ClampedAtBounds(t *testing.T) {
	// Entirely one-sided pool clamps instead of hitting 0 or 1.
	ceiling, err := math.ImpliedPrice(5000, 5000, 0)
	if err != nil {
		t.Fatalf("ImpliedPrice: %v", err)
	}
	if ceiling != math.PriceCeiling {
		t.Errorf("one-sided price = %d, want ceiling %d", ceiling, math.PriceCeiling)
	}

	floor, err := math.ImpliedPrice(0, 5000, 0)
	if err != nil {
		t.Fatalf("ImpliedPrice: %v", err)
	}
	if floor != math.PriceFloor {
		t.Errorf("empty-side price = %d, want floor %d", floor, math.PriceFloor)
	}
}

// ============================================================================
// Test: Shares
// ============================================================================

func TestSharesForStake_MidPrice(t *testing.T) {
	got, err := math.SharesForStake(100, math.MidPrice)
	if err != nil {
		t.Fatalf("SharesForStake: %v", err)
	}
	if got != 200 {
		t.Errorf("shares = %d, want 200", got)
	}
}

func TestSharesForStake_RoundsDown(t *testing.T) {
	// 100 / 0.30 = 333.33..., bettor gets 333.
	got, err := math.SharesForStake(100, 300_000)
	if err != nil {
		t.Fatalf("SharesForStake: %v", err)
	}
	if got != 333 {
		t.Errorf("shares = %d, want 333", got)
	}
}

func TestSharesForStake_DiminishingAsPriceRises(t *testing.T) {
	cheap, err := math.SharesForStake(1000, 400_000)
	if err != nil {
		t.Fatalf("SharesForStake: %v", err)
	}
	dear, err := math.SharesForStake(1000, 600_000)
	if err != nil {
		t.Fatalf("SharesForStake: %v", err)
	}
	if dear >= cheap {
		t.Errorf("shares at higher price %d must be fewer than %d", dear, cheap)
	}
}

// ============================================================================
// Test: Payout
// ============================================================================

func TestPayout_SoleWinnerTakesPool(t *testing.T) {
	got, err := math.Payout(500, 2000, 500)
	if err != nil {
		t.Fatalf("Payout: %v", err)
	}
	if got != 2000 {
		t.Errorf("payout = %d, want 2000", got)
	}
}

func TestPayout_Proportional(t *testing.T) {
	got, err := math.Payout(100, 3000, 400)
	if err != nil {
		t.Fatalf("Payout: %v", err)
	}
	if got != 750 {
		t.Errorf("payout = %d, want 750", got)
	}
}

func TestPayout_DustStaysInPool(t *testing.T) {
	// 1000 split across 3 equal claimants: 333 each, 1 unit of dust remains.
	total := int64(0)
	for i := 0; i < 3; i++ {
		p, err := math.Payout(1, 1000, 3)
		if err != nil {
			t.Fatalf("Payout: %v", err)
		}
		total += p
	}
	if total != 999 {
		t.Errorf("sum of payouts = %d, want 999", total)
	}
}

func TestPayout_NoWinningShares(t *testing.T) {
	if _, err := math.Payout(0, 1000, 0); err == nil {
		t.Error("expected error when no winning shares exist")
	}
}
