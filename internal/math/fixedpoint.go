// internal/math/fixedpoint.go
package math

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrNegativeAmount = errors.New("negative amount")
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	PriceConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // implied price, 1.0 == 1_000_000
	ShareConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // pool shares
	VolatileConfig = DecimalConfig{DecimalPrecision: 9, Scale: 1_000_000_000} // volatile asset smallest unit
	StableConfig   = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // stable asset smallest unit
)

// BasisPointDenom is the divisor for fee math: 1 bps == 0.01%.
const BasisPointDenom = 10_000

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// CheckedAdd returns a + b, failing instead of wrapping.
func CheckedAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b, failing instead of wrapping.
func CheckedSub(a, b int64) (int64, error) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, ErrOverflow
	}
	return diff, nil
}

// CheckedMul returns a * b, failing instead of wrapping.
func CheckedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a {
		return 0, ErrOverflow
	}
	return product, nil
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// The numerator is consumed (returned to the pool).
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (int64, error) {
	if denominator == 0 {
		putInt128(numerator)
		return 0, ErrDivisionByZero
	}

	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	if !quotient.IsInt64() {
		putInt128(numerator)
		putInt128(quotient)
		putInt128(remainder)
		return 0, ErrOverflow
	}
	result := quotient.Int64()

	switch roundingMode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(numerator)
	putInt128(quotient)
	putInt128(remainder)

	return result, nil
}

// MulDiv computes a * b / denom with an int128 intermediate, so the product
// never wraps even when a*b exceeds int64 range.
func MulDiv(a, b, denom int64, mode RoundingMode) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegativeAmount
	}
	return DivideInt128(MultiplyInt128(a, b), denom, mode)
}

// FeeOn computes the platform fee for an amount at the given basis-point
// rate. Rounds up: residual rounding always favors the pool, never the
// bettor.
func FeeOn(amount, feeBps int64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	if feeBps < 0 || feeBps > BasisPointDenom {
		return 0, ErrOverflow
	}
	return MulDiv(amount, feeBps, BasisPointDenom, RoundUp)
}

// ComputeAvgEntryPrice calculates the volume-weighted average entry price
// after acquiring newShares at fillPrice on top of oldShares at oldAvg.
func ComputeAvgEntryPrice(oldShares, oldAvg, newShares, fillPrice int64) (int64, error) {
	if oldShares == 0 {
		return fillPrice, nil
	}

	term1 := MultiplyInt128(oldShares, oldAvg)
	term2 := MultiplyInt128(newShares, fillPrice)
	numerator := getInt128()
	numerator.Add(term1, term2)
	putInt128(term1)
	putInt128(term2)

	denominator, err := CheckedAdd(oldShares, newShares)
	if err != nil {
		putInt128(numerator)
		return 0, err
	}

	return DivideInt128(numerator, denominator, RoundHalfEven)
}
