package projection

import "sync"

// PricePoint is one implied-price observation for a market, recorded after
// each accepted bet.
type PricePoint struct {
	MarketID   string
	Sequence   int64
	YesPrice   int64 // price scale, 1e6 = certainty
	YesPool    int64
	NoPool     int64
	Volume     int64
	Timestamp  int64
}

// PriceHistoryProjection maintains a queryable in-memory price series.
// Bounded per market; oldest points are discarded first. Safe for
// concurrent use: the projection loop writes while API handlers read.
type PriceHistoryProjection struct {
	mu        sync.RWMutex
	byMarket  map[string][]PricePoint
	maxPoints int
}

func NewPriceHistoryProjection(maxPointsPerMarket int) *PriceHistoryProjection {
	if maxPointsPerMarket <= 0 {
		maxPointsPerMarket = 10_000
	}
	return &PriceHistoryProjection{
		byMarket:  make(map[string][]PricePoint),
		maxPoints: maxPointsPerMarket,
	}
}

// AddPoint records a price observation.
func (p *PriceHistoryProjection) AddPoint(point PricePoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	series := append(p.byMarket[point.MarketID], point)
	if len(series) > p.maxPoints {
		series = series[len(series)-p.maxPoints:]
	}
	p.byMarket[point.MarketID] = series
}

// QueryByMarket returns the most recent points for a market, newest first.
func (p *PriceHistoryProjection) QueryByMarket(marketID string, limit int) []PricePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	series := p.byMarket[marketID]
	result := make([]PricePoint, 0, limit)

	for i := len(series) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, series[i])
	}

	return result
}

// Latest returns the most recent point for a market, if any.
func (p *PriceHistoryProjection) Latest(marketID string) (PricePoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	series := p.byMarket[marketID]
	if len(series) == 0 {
		return PricePoint{}, false
	}
	return series[len(series)-1], true
}
