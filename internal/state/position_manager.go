// internal/state/position_manager.go
package state

import (
	"github.com/google/uuid"
)

// PositionManager tracks every position keyed by its derived address.
type PositionManager struct {
	positions map[Address]*Position
	byMarket  map[uuid.UUID][]*Position
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions: make(map[Address]*Position),
		byMarket:  make(map[uuid.UUID][]*Position),
	}
}

// GetPosition returns the existing position for (user, market) or nil.
func (pm *PositionManager) GetPosition(userID, marketID uuid.UUID) *Position {
	return pm.positions[DerivePositionAddress(userID, marketID)]
}

// GetOrCreatePosition returns the existing position or creates an empty
// one at its derived address. Returns (position, created).
func (pm *PositionManager) GetOrCreatePosition(userID, marketID uuid.UUID, timestamp int64) (*Position, bool) {
	addr := DerivePositionAddress(userID, marketID)
	if pos, ok := pm.positions[addr]; ok {
		return pos, false
	}

	pos := &Position{
		UserID:    userID,
		MarketID:  marketID,
		Address:   addr,
		CreatedAt: timestamp,
		UpdatedAt: timestamp,
	}
	pm.positions[addr] = pos
	pm.byMarket[marketID] = append(pm.byMarket[marketID], pos)
	return pos, true
}

// MarketPositions returns every position in one market.
func (pm *PositionManager) MarketPositions(marketID uuid.UUID) []*Position {
	return pm.byMarket[marketID]
}

// GetUserPositions returns all positions for a user.
func (pm *PositionManager) GetUserPositions(userID uuid.UUID) []*Position {
	result := make([]*Position, 0)
	for _, pos := range pm.positions {
		if pos.UserID == userID {
			result = append(result, pos)
		}
	}
	return result
}

// GetAllPositions returns all positions (for snapshot creation).
func (pm *PositionManager) GetAllPositions() []*Position {
	result := make([]*Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		result = append(result, pos)
	}
	return result
}

// SetPosition directly sets a position (used for snapshot restore).
func (pm *PositionManager) SetPosition(pos *Position) {
	if pos.Address.IsZero() {
		pos.Address = DerivePositionAddress(pos.UserID, pos.MarketID)
	}
	if _, ok := pm.positions[pos.Address]; !ok {
		pm.byMarket[pos.MarketID] = append(pm.byMarket[pos.MarketID], pos)
	}
	pm.positions[pos.Address] = pos
}
