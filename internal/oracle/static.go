package oracle

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/model"
)

// StaticSource is a settable in-process feed. It backs the governance
// price-push endpoint and the test suites.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	now    func() time.Time
}

func NewStaticSource() *StaticSource {
	return &StaticSource{
		quotes: make(map[string]Quote),
		now:    time.Now,
	}
}

// SetClock overrides the timestamp used for pushed quotes.
func (s *StaticSource) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Push records a quote for the pair at the current clock.
func (s *StaticSource) Push(pair model.Pair, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[pair.String()] = Quote{
		Pair:     pair,
		Price:    price,
		Ts:       s.now(),
		Provider: "static",
	}
}

// PushAt records a quote with an explicit timestamp.
func (s *StaticSource) PushAt(pair model.Pair, price decimal.Decimal, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[pair.String()] = Quote{
		Pair:     pair,
		Price:    price,
		Ts:       ts,
		Provider: "static",
	}
}

// Drop removes any quote for the pair.
func (s *StaticSource) Drop(pair model.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, pair.String())
}

func (s *StaticSource) Latest(pair model.Pair) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[pair.String()]
	return q, ok
}
