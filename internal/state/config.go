// internal/state/config.go
package state

import (
	"fmt"

	"github.com/google/uuid"
)

// Text length caps for market metadata.
const (
	MaxTitleLen       = 128
	MaxDescriptionLen = 1024
	MaxCategoryLen    = 64
	MaxResolutionLen  = 1024
	MaxExternalRefLen = 256
)

// GlobalConfig is the program singleton: created once, read by every
// operation, mutated only by its authority.
type GlobalConfig struct {
	Initialized bool
	Authority   uuid.UUID // program + emergency authority

	FeeBps int64 // platform fee in basis points

	MinDurationSecs int64 // bounds on market deadline distance
	MaxDurationSecs int64

	// Bet bounds in smallest stable-asset units; volatile-asset markets
	// scale them by the asset scale ratio.
	MinBet int64
	MaxBet int64

	Paused bool // global emergency halt for market creation and betting

	// Lifetime counters.
	MarketsCreated int64
	BetsPlaced     int64
	VolumeByAsset  map[string]int64 // asset symbol -> gross amount staked
}

func NewGlobalConfig(authority uuid.UUID, feeBps, minDuration, maxDuration, minBet, maxBet int64) (*GlobalConfig, error) {
	cfg := &GlobalConfig{
		Initialized:     true,
		Authority:       authority,
		FeeBps:          feeBps,
		MinDurationSecs: minDuration,
		MaxDurationSecs: maxDuration,
		MinBet:          minBet,
		MaxBet:          maxBet,
		VolumeByAsset:   make(map[string]int64),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *GlobalConfig) Validate() error {
	if c.Authority == uuid.Nil {
		return fmt.Errorf("authority must be set")
	}
	if c.FeeBps < 0 || c.FeeBps > 10_000 {
		return fmt.Errorf("fee_bps out of range: %d", c.FeeBps)
	}
	if c.MinDurationSecs <= 0 || c.MaxDurationSecs < c.MinDurationSecs {
		return fmt.Errorf("invalid duration bounds: min=%d max=%d", c.MinDurationSecs, c.MaxDurationSecs)
	}
	if c.MinBet <= 0 || c.MaxBet < c.MinBet {
		return fmt.Errorf("invalid bet bounds: min=%d max=%d", c.MinBet, c.MaxBet)
	}
	return nil
}

// BetBounds returns the effective min/max bet for an asset kind, scaling
// the stable-denominated bounds by the variant's decimal scale.
func (c *GlobalConfig) BetBounds(kind AssetKind) (minBet, maxBet int64) {
	ratio := kind.Scale() / AssetStable.Scale()
	if ratio <= 1 {
		return c.MinBet, c.MaxBet
	}
	return c.MinBet * ratio, c.MaxBet * ratio
}

// RecordBet updates the lifetime counters for an accepted bet.
func (c *GlobalConfig) RecordBet(kind AssetKind, grossAmount int64) {
	c.BetsPlaced++
	if c.VolumeByAsset == nil {
		c.VolumeByAsset = make(map[string]int64)
	}
	c.VolumeByAsset[kind.Symbol()] += grossAmount
}
