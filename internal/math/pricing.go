// internal/math/pricing.go
package math

const (
	// PriceScale is the fixed-point representation of price 1.0.
	PriceScale = 1_000_000

	// PriceFloor and PriceCeiling clamp the implied price so an empty or
	// fully one-sided pool never produces a zero or infinite price.
	PriceFloor   = 10_000  // 0.01
	PriceCeiling = 990_000 // 0.99

	// MidPrice is the implied price on a market with no liquidity yet.
	MidPrice = PriceScale / 2
)

// ImpliedPrice computes the execution price for buying into sidePool given
// the current pool totals. Price is the chosen side's fraction of total
// liquidity, so filling one side up raises its price and each subsequent
// bettor on that side receives fewer shares per unit staked.
func ImpliedPrice(sidePool, yesPool, noPool int64) (int64, error) {
	total, err := CheckedAdd(yesPool, noPool)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return MidPrice, nil
	}

	price, err := MulDiv(sidePool, PriceScale, total, RoundUp)
	if err != nil {
		return 0, err
	}
	return ClampPrice(price), nil
}

// ClampPrice bounds a price to [PriceFloor, PriceCeiling].
func ClampPrice(price int64) int64 {
	if price < PriceFloor {
		return PriceFloor
	}
	if price > PriceCeiling {
		return PriceCeiling
	}
	return price
}

// SharesForStake converts a net stake (fee already deducted) into shares at
// the given execution price. Rounds down: fractional shares stay with the
// pool.
func SharesForStake(stake, price int64) (int64, error) {
	if stake < 0 {
		return 0, ErrNegativeAmount
	}
	return MulDiv(stake, PriceScale, price, RoundDown)
}

// Payout computes the proportional claim of winShares out of
// totalWinShares against the combined pool. Rounds down: remainder dust
// stays in the vaults and is swept to the platform when the last winning
// share is claimed.
func Payout(winShares, totalPool, totalWinShares int64) (int64, error) {
	if winShares < 0 || totalPool < 0 {
		return 0, ErrNegativeAmount
	}
	if totalWinShares == 0 {
		return 0, ErrDivisionByZero
	}
	return MulDiv(winShares, totalPool, totalWinShares, RoundDown)
}
