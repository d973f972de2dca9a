package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types (per-market unless noted)
	SubTypeYesVault
	SubTypeNoVault
	SubTypeMarketFees
	SubTypeTreasury // global
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"SOL":  1,
		"USDC": 2,
	}
	idToAsset = map[AssetID]string{
		1: "SOL",
		2: "USDC",
	}
	// Smallest-denomination scale per asset: lamports vs micro-dollars.
	assetScale = map[AssetID]int64{
		1: 1_000_000_000,
		2: 1_000_000,
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

func GetAssetScale(id AssetID) (int64, bool) {
	scale, ok := assetScale[id]
	return scale, ok
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID: user for wallets, market for vault/fee accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserWalletKey creates the boundary account for a user's on-chain wallet.
// Bets credit it, payouts and refunds debit it; a net contributor's wallet
// balance is negative inside the ledger.
func NewUserWalletKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewMarketVaultKey creates the pooled-funds account for one side of a market.
func NewMarketVaultKey(marketID uuid.UUID, yes bool, assetID AssetID) AccountKey {
	subType := SubTypeNoVault
	if yes {
		subType = SubTypeYesVault
	}
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: marketID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewMarketFeeKey creates the per-market fee accrual account.
func NewMarketFeeKey(marketID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: marketID,
		SubType:  SubTypeMarketFees,
		AssetID:  assetID,
	}
}

// NewTreasuryKey creates the global fee-collection destination account.
func NewTreasuryKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: SubTypeTreasury,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		if k.SubType == SubTypeTreasury {
			return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
		}
		mid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("market:%s:%s:%s", mid.String(), k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeYesVault:
		return "yes_vault"
	case SubTypeNoVault:
		return "no_vault"
	case SubTypeMarketFees:
		return "fees"
	case SubTypeTreasury:
		return "treasury"
	default:
		return "unknown"
	}
}

// ParseAccountPath reverses AccountPath. Used when restoring balances
// from a snapshot, where keys are stored as path strings.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		if parts[2] != "wallet" {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown user sub-type", path)
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset", path)
		}
		return NewUserWalletKey(uid, assetID), nil

	case len(parts) == 4 && parts[0] == "market":
		mid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset", path)
		}
		switch parts[2] {
		case "yes_vault":
			return NewMarketVaultKey(mid, true, assetID), nil
		case "no_vault":
			return NewMarketVaultKey(mid, false, assetID), nil
		case "fees":
			return NewMarketFeeKey(mid, assetID), nil
		}
		return AccountKey{}, fmt.Errorf("parse account path %q: unknown market sub-type", path)

	case len(parts) == 3 && parts[0] == "system" && parts[1] == "treasury":
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset", path)
		}
		return NewTreasuryKey(assetID), nil
	}

	return AccountKey{}, fmt.Errorf("parse account path %q: unrecognized form", path)
}

// IsVault reports whether the key is one of a market's two pool vaults.
func (k AccountKey) IsVault() bool {
	return k.Scope == AccountScopeSystem &&
		(k.SubType == SubTypeYesVault || k.SubType == SubTypeNoVault)
}
