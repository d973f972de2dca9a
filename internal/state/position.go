// internal/state/position.go
package state

import (
	"fmt"

	fpmath "PredictLedger/internal/math"

	"github.com/google/uuid"
)

// Position is one user's cumulative stake record within one market.
// Created lazily on the first bet, never removed: a claimed position stays
// as an audit record.
type Position struct {
	UserID   uuid.UUID
	MarketID uuid.UUID
	Address  Address

	YesShares int64
	NoShares  int64

	// Stake accounting. YesStake/NoStake are net of fees (what sits in
	// the vaults); TotalInvested is gross and is what a cancellation
	// refunds.
	YesStake      int64
	NoStake       int64
	FeePaid       int64
	TotalInvested int64

	AvgYesPrice int64 // volume-weighted, price scale
	AvgNoPrice  int64

	BetCount int64

	Claimed       bool
	ClaimedAmount int64

	CreatedAt int64 // epoch microseconds
	UpdatedAt int64

	Version int64 // Optimistic concurrency control
}

// ApplyBet folds an accepted bet into the position.
func (p *Position) ApplyBet(yes bool, netStake, fee, shares, price, timestamp int64) error {
	gross, err := fpmath.CheckedAdd(netStake, fee)
	if err != nil {
		return fmt.Errorf("bet gross amount: %w", err)
	}

	if yes {
		avg, err := fpmath.ComputeAvgEntryPrice(p.YesShares, p.AvgYesPrice, shares, price)
		if err != nil {
			return fmt.Errorf("yes avg entry: %w", err)
		}
		newShares, err := fpmath.CheckedAdd(p.YesShares, shares)
		if err != nil {
			return fmt.Errorf("yes shares: %w", err)
		}
		newStake, err := fpmath.CheckedAdd(p.YesStake, netStake)
		if err != nil {
			return fmt.Errorf("yes stake: %w", err)
		}
		p.YesShares = newShares
		p.YesStake = newStake
		p.AvgYesPrice = avg
	} else {
		avg, err := fpmath.ComputeAvgEntryPrice(p.NoShares, p.AvgNoPrice, shares, price)
		if err != nil {
			return fmt.Errorf("no avg entry: %w", err)
		}
		newShares, err := fpmath.CheckedAdd(p.NoShares, shares)
		if err != nil {
			return fmt.Errorf("no shares: %w", err)
		}
		newStake, err := fpmath.CheckedAdd(p.NoStake, netStake)
		if err != nil {
			return fmt.Errorf("no stake: %w", err)
		}
		p.NoShares = newShares
		p.NoStake = newStake
		p.AvgNoPrice = avg
	}

	invested, err := fpmath.CheckedAdd(p.TotalInvested, gross)
	if err != nil {
		return fmt.Errorf("total invested: %w", err)
	}
	feeTotal, err := fpmath.CheckedAdd(p.FeePaid, fee)
	if err != nil {
		return fmt.Errorf("fee paid: %w", err)
	}

	p.TotalInvested = invested
	p.FeePaid = feeTotal
	p.BetCount++
	p.UpdatedAt = timestamp
	p.Version++
	return nil
}

// SharesFor returns the shares held on one side.
func (p *Position) SharesFor(yes bool) int64 {
	if yes {
		return p.YesShares
	}
	return p.NoShares
}

// IsEmpty reports whether the position holds no shares on either side.
func (p *Position) IsEmpty() bool {
	return p.YesShares == 0 && p.NoShares == 0
}

// MarkClaimed settles the position: shares are logically zeroed and a
// second claim must be rejected. Must be called before the payout journal
// is generated.
func (p *Position) MarkClaimed(amount, timestamp int64) {
	p.Claimed = true
	p.ClaimedAmount = amount
	p.YesShares = 0
	p.NoShares = 0
	p.UpdatedAt = timestamp
	p.Version++
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160)

	buf = append(buf, p.UserID[:]...)
	buf = append(buf, p.MarketID[:]...)
	buf = appendInt64LE(buf, p.YesShares)
	buf = appendInt64LE(buf, p.NoShares)
	buf = appendInt64LE(buf, p.YesStake)
	buf = appendInt64LE(buf, p.NoStake)
	buf = appendInt64LE(buf, p.FeePaid)
	buf = appendInt64LE(buf, p.TotalInvested)
	buf = appendInt64LE(buf, p.AvgYesPrice)
	buf = appendInt64LE(buf, p.AvgNoPrice)
	buf = appendInt64LE(buf, p.BetCount)
	buf = appendInt64LE(buf, p.ClaimedAmount)

	if p.Claimed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
