// internal/state/market_manager.go
package state

import (
	"fmt"

	"github.com/google/uuid"
)

// MarketManager tracks markets by id and by derived address. Creating a
// market whose address is already initialized fails: the derivation rule
// guarantees uniqueness without a directory service.
type MarketManager struct {
	markets   map[uuid.UUID]*Market
	byAddress map[Address]*Market
}

func NewMarketManager() *MarketManager {
	return &MarketManager{
		markets:   make(map[uuid.UUID]*Market),
		byAddress: make(map[Address]*Market),
	}
}

// CreateMarket registers a new market account. The address, bump and vault
// addresses are derived here from the logical key.
func (mm *MarketManager) CreateMarket(m *Market) error {
	addr, bump := DeriveMarketAddress(m.Creator, m.MarketID)
	if _, exists := mm.byAddress[addr]; exists {
		return fmt.Errorf("market account %s already initialized", addr)
	}
	if _, exists := mm.markets[m.MarketID]; exists {
		return fmt.Errorf("market %s already exists", m.MarketID)
	}

	m.Address = addr
	m.Bump = bump
	m.YesVault = DeriveVaultAddress(m.MarketID, true)
	m.NoVault = DeriveVaultAddress(m.MarketID, false)

	mm.markets[m.MarketID] = m
	mm.byAddress[addr] = m
	return nil
}

// GetMarket returns a market by id, or nil.
func (mm *MarketManager) GetMarket(marketID uuid.UUID) *Market {
	return mm.markets[marketID]
}

// GetMarketByAddress returns a market by derived address, or nil.
func (mm *MarketManager) GetMarketByAddress(addr Address) *Market {
	return mm.byAddress[addr]
}

// Transition moves a market to the next lifecycle state, enforcing the
// state machine.
func (mm *MarketManager) Transition(m *Market, next MarketState) error {
	if !m.State.CanTransitionTo(next) {
		return fmt.Errorf("illegal market transition %s -> %s", m.State, next)
	}
	m.State = next
	m.Version++
	return nil
}

// GetAllMarkets returns all markets (for snapshot creation).
func (mm *MarketManager) GetAllMarkets() []*Market {
	result := make([]*Market, 0, len(mm.markets))
	for _, m := range mm.markets {
		result = append(result, m)
	}
	return result
}

// SetMarket directly sets a market (used for snapshot restore).
func (mm *MarketManager) SetMarket(m *Market) {
	if m.Address.IsZero() {
		m.Address, m.Bump = DeriveMarketAddress(m.Creator, m.MarketID)
	}
	mm.markets[m.MarketID] = m
	mm.byAddress[m.Address] = m
}

// Count returns the number of tracked markets.
func (mm *MarketManager) Count() int {
	return len(mm.markets)
}
