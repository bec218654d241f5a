// Package oracle wraps external price feeds behind a single adapter that
// normalizes quotes into per-cycle observations. The adapter never invents a
// price: when no source has data for a pair the caller gets ok=false and must
// skip the cycle.
package oracle

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/model"
	"github.com/serpworks/serpd/internal/pkg/metrics"
)

// Quote is a single price sample from one source.
type Quote struct {
	Pair     model.Pair
	Price    decimal.Decimal
	Ts       time.Time
	Provider string
}

// Source is one upstream price feed.
type Source interface {
	// Latest returns the most recent quote known for the pair, if any.
	Latest(pair model.Pair) (Quote, bool)
}

// Adapter aggregates sources into one observation per pair per cycle.
// Aggregation is by median across sources; a configured freshness window
// marks late feeds stale, and a deviation bound against the previously
// accepted median flags suspicious jumps as untrusted for the cycle.
type Adapter struct {
	mu      sync.RWMutex
	sources []Source

	freshness       time.Duration
	maxDeviationBps int64
	lastAccepted    map[string]decimal.Decimal
	now             func() time.Time
}

func NewAdapter(freshness time.Duration, maxDeviationBps int64, sources ...Source) *Adapter {
	if freshness <= 0 {
		freshness = 30 * time.Second
	}
	return &Adapter{
		sources:         sources,
		freshness:       freshness,
		maxDeviationBps: maxDeviationBps,
		lastAccepted:    make(map[string]decimal.Decimal),
		now:             time.Now,
	}
}

// SetClock overrides the adapter clock for deterministic tests.
func (a *Adapter) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

func (a *Adapter) AddSource(s Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources = append(a.sources, s)
}

// Observe produces the observation for one pair at the given height.
// The second return is false when no source has any data for the pair.
func (a *Adapter) Observe(pair model.Pair, height uint64) (model.PriceObservation, bool) {
	a.mu.RLock()
	sources := a.sources
	now := a.now()
	a.mu.RUnlock()

	prices := make([]decimal.Decimal, 0, len(sources))
	newest := time.Time{}
	for _, src := range sources {
		q, ok := src.Latest(pair)
		if !ok || !q.Price.IsPositive() {
			continue
		}
		prices = append(prices, q.Price)
		if q.Ts.After(newest) {
			newest = q.Ts
		}
	}
	if len(prices) == 0 {
		metrics.OracleObservations.WithLabelValues(pair.String(), "missing").Inc()
		return model.PriceObservation{}, false
	}

	price := median(prices)
	obs := model.PriceObservation{
		Pair:       pair,
		Price:      price,
		ObservedAt: height,
		ObservedTs: newest,
		Sources:    len(prices),
	}

	if now.Sub(newest) > a.freshness {
		obs.IsStale = true
	} else if a.deviationExceeded(pair, price) {
		// A sudden jump beyond the bound is treated like a stale feed:
		// untrusted for this cycle, no state change.
		obs.IsStale = true
	} else {
		a.mu.Lock()
		a.lastAccepted[pair.String()] = price
		a.mu.Unlock()
	}

	status := "fresh"
	if obs.IsStale {
		status = "stale"
	}
	metrics.OracleObservations.WithLabelValues(pair.String(), status).Inc()
	return obs, true
}

func (a *Adapter) deviationExceeded(pair model.Pair, price decimal.Decimal) bool {
	if a.maxDeviationBps <= 0 {
		return false
	}
	a.mu.RLock()
	prev, ok := a.lastAccepted[pair.String()]
	a.mu.RUnlock()
	if !ok || !prev.IsPositive() {
		return false
	}
	diff := price.Sub(prev).Abs()
	threshold := prev.Mul(decimal.New(a.maxDeviationBps, -4))
	return diff.GreaterThan(threshold)
}

func median(prices []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
