// internal/state/market.go
package state

import (
	"github.com/google/uuid"
)

// AssetKind is the closed two-case variant of assets a market can accept.
// Pricing and bound math is parameterized by the variant's decimal scale,
// never specialized per kind.
type AssetKind int32

const (
	AssetVolatile AssetKind = iota
	AssetStable
)

func (k AssetKind) String() string {
	switch k {
	case AssetVolatile:
		return "volatile"
	case AssetStable:
		return "stable"
	default:
		return "unknown"
	}
}

// Symbol returns the ledger asset symbol backing this kind.
func (k AssetKind) Symbol() string {
	if k == AssetVolatile {
		return "SOL"
	}
	return "USDC"
}

// Scale returns the smallest-denomination scale of the backing asset.
func (k AssetKind) Scale() int64 {
	if k == AssetVolatile {
		return 1_000_000_000
	}
	return 1_000_000
}

func ParseAssetKind(s string) (AssetKind, bool) {
	switch s {
	case "volatile":
		return AssetVolatile, true
	case "stable":
		return AssetStable, true
	}
	return 0, false
}

// MarketState is the market lifecycle state
type MarketState int32

const (
	MarketStateActive MarketState = iota
	MarketStatePaused
	MarketStateResolved
	MarketStateCancelled
)

func (ms MarketState) String() string {
	switch ms {
	case MarketStateActive:
		return "Active"
	case MarketStatePaused:
		return "Paused"
	case MarketStateResolved:
		return "Resolved"
	case MarketStateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions. Paused is a reversible
// sub-state of Active; Resolved and Cancelled are terminal.
func (ms MarketState) CanTransitionTo(next MarketState) bool {
	validTransitions := map[MarketState][]MarketState{
		MarketStateActive: {
			MarketStatePaused,
			MarketStateResolved,
			MarketStateCancelled,
		},
		MarketStatePaused: {
			MarketStateActive,
			MarketStateResolved,
			MarketStateCancelled,
		},
	}

	allowed, ok := validTransitions[ms]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// Market is one binary-outcome prediction event.
type Market struct {
	MarketID uuid.UUID
	Address  Address
	Bump     uint8 // derivation seed byte

	Creator  uuid.UUID
	Resolver uuid.UUID

	Title       string
	Description string
	Category    string
	ExternalRef string // optional external-data reference

	AssetKind AssetKind
	YesVault  Address
	NoVault   Address

	CreatedAt int64 // epoch microseconds
	Deadline  int64 // resolution deadline, epoch microseconds

	State MarketState

	// Pool accounting. Invariant: YesPool + NoPool always equals the sum
	// of both vault balances for this market.
	YesPool        int64
	NoPool         int64
	TotalYesShares int64
	TotalNoShares  int64

	Volume       int64 // lifetime gross amount staked
	BetCount     int64
	Participants int64

	// Resolution. Outcome stays nil until Resolved and is immutable after.
	Outcome        *bool
	ResolutionData string
	ResolvedAt     int64

	// Claim bookkeeping. ResolvedPool and the winning share total are
	// frozen at resolution so every claim prices against the same
	// denominator; pools shrink as claims pay out. When no unclaimed
	// winning shares remain the residual dust and accrued fees are swept.
	ResolvedPool           int64
	UnclaimedWinningShares int64
	Swept                  bool

	Version int64
}

// IsTerminal reports whether the market reached a terminal state.
func (m *Market) IsTerminal() bool {
	return m.State == MarketStateResolved || m.State == MarketStateCancelled
}

// AcceptsBets reports whether bet placement is legal in the current state.
func (m *Market) AcceptsBets() bool {
	return m.State == MarketStateActive
}

// WinningSide returns the resolved outcome, or false ok when unresolved.
func (m *Market) WinningSide() (yes bool, ok bool) {
	if m.State != MarketStateResolved || m.Outcome == nil {
		return false, false
	}
	return *m.Outcome, true
}

// PoolFor returns the pool total for one side.
func (m *Market) PoolFor(yes bool) int64 {
	if yes {
		return m.YesPool
	}
	return m.NoPool
}

// SharesFor returns the outstanding shares for one side.
func (m *Market) SharesFor(yes bool) int64 {
	if yes {
		return m.TotalYesShares
	}
	return m.TotalNoShares
}

// CanonicalBytes returns deterministic serialization for hashing
func (m *Market) CanonicalBytes() []byte {
	buf := make([]byte, 0, 192)

	buf = append(buf, m.MarketID[:]...)
	buf = append(buf, m.Address[:]...)
	buf = append(buf, m.Creator[:]...)
	buf = append(buf, m.Resolver[:]...)
	buf = append(buf, byte(m.AssetKind))
	buf = append(buf, byte(m.State))
	buf = appendInt64LE(buf, m.CreatedAt)
	buf = appendInt64LE(buf, m.Deadline)
	buf = appendInt64LE(buf, m.YesPool)
	buf = appendInt64LE(buf, m.NoPool)
	buf = appendInt64LE(buf, m.TotalYesShares)
	buf = appendInt64LE(buf, m.TotalNoShares)
	buf = appendInt64LE(buf, m.Volume)
	buf = appendInt64LE(buf, m.BetCount)
	buf = appendInt64LE(buf, m.Participants)
	buf = appendInt64LE(buf, m.ResolvedPool)
	buf = appendInt64LE(buf, m.UnclaimedWinningShares)

	switch {
	case m.Outcome == nil:
		buf = append(buf, 0)
	case *m.Outcome:
		buf = append(buf, 2)
	default:
		buf = append(buf, 1)
	}

	return buf
}
