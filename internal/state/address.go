// internal/state/address.go
package state

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Address is a 32-byte deterministic account address. Every non-singleton
// account is addressable from its logical key alone, so any caller can
// recompute the address without a directory lookup.
type Address [32]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(raw) != len(a) {
		return a, hex.ErrLength
	}
	copy(a[:], raw)
	return a, nil
}

func derive(tag string, parts ...[]byte) Address {
	h := sha256.New()
	h.Write([]byte(tag))
	for _, p := range parts {
		h.Write(p)
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// DeriveMarketAddress computes a market's address from its creator and id.
// The returned bump is the derivation seed byte recorded on the account.
func DeriveMarketAddress(creator, marketID uuid.UUID) (Address, uint8) {
	a := derive("market", creator[:], marketID[:])
	return a, a[31]
}

// DerivePositionAddress computes the unique position address for a
// (user, market) pair.
func DerivePositionAddress(userID, marketID uuid.UUID) Address {
	return derive("position", userID[:], marketID[:])
}

// DeriveVaultAddress computes the pool vault address for one side of a market.
func DeriveVaultAddress(marketID uuid.UUID, yes bool) Address {
	side := []byte{0}
	if yes {
		side = []byte{1}
	}
	return derive("vault", marketID[:], side)
}
