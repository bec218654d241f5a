// Package registry holds the governance-owned peg configuration. Reads go
// through immutable snapshots so a cycle never observes a config change
// mid-computation; writes are serialized and bump a version counter.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/serpworks/serpd/internal/model"
)

// Store is the optional persistence behind the registry. The postgres
// implementation lives in internal/repository.
type Store interface {
	Upsert(ctx context.Context, cfg model.PegConfig) error
	Delete(ctx context.Context, currency model.Currency) error
	LoadAll(ctx context.Context) ([]model.PegConfig, error)
}

// Snapshot is an immutable view of the registry at one version. Safe for
// concurrent reads; never mutated after construction.
type Snapshot struct {
	Version uint64
	configs map[model.Currency]model.PegConfig
	order   []model.Currency
}

func (s *Snapshot) Get(currency model.Currency) (model.PegConfig, bool) {
	cfg, ok := s.configs[currency.Normalized()]
	return cfg, ok
}

// Currencies lists the managed currencies in registration order.
func (s *Snapshot) Currencies() []model.Currency {
	out := make([]model.Currency, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Snapshot) Len() int { return len(s.order) }

// Registry is the live peg configuration. Copy-on-write: every mutation
// builds a fresh snapshot, readers keep whatever snapshot they grabbed.
type Registry struct {
	mu      sync.RWMutex
	current *Snapshot
	store   Store
}

func New(store Store) *Registry {
	return &Registry{
		current: &Snapshot{
			Version: 0,
			configs: make(map[model.Currency]model.PegConfig),
		},
		store: store,
	}
}

// LoadFromStore replaces the registry contents with persisted configs.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	configs, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := &Snapshot{
		Version: r.current.Version + 1,
		configs: make(map[model.Currency]model.PegConfig, len(configs)),
	}
	for _, cfg := range configs {
		cur := cfg.Currency.Normalized()
		cfg.Currency = cur
		if _, exists := next.configs[cur]; !exists {
			next.order = append(next.order, cur)
		}
		next.configs[cur] = cfg
	}
	r.current = next
	return nil
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Get reads one config from the current snapshot.
func (r *Registry) Get(currency model.Currency) (model.PegConfig, bool) {
	return r.Snapshot().Get(currency)
}

// Set registers or updates a peg. Governance path only; write-through when a
// store is configured.
func (r *Registry) Set(ctx context.Context, cfg model.PegConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Currency = cfg.Currency.Normalized()
	cfg.ReserveCurrency = cfg.ReserveCurrency.Normalized()
	cfg.ReferenceQuote = cfg.ReferenceQuote.Normalized()
	cfg.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		if err := r.store.Upsert(ctx, cfg); err != nil {
			return err
		}
	}
	next := r.copyLocked()
	if _, exists := next.configs[cfg.Currency]; !exists {
		next.order = append(next.order, cfg.Currency)
	}
	next.configs[cfg.Currency] = cfg
	r.current = next
	return nil
}

// Delete unregisters a peg.
func (r *Registry) Delete(ctx context.Context, currency model.Currency) error {
	cur := currency.Normalized()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.current.configs[cur]; !exists {
		return nil
	}
	if r.store != nil {
		if err := r.store.Delete(ctx, cur); err != nil {
			return err
		}
	}
	next := r.copyLocked()
	delete(next.configs, cur)
	order := next.order[:0]
	for _, c := range next.order {
		if c != cur {
			order = append(order, c)
		}
	}
	next.order = order
	r.current = next
	return nil
}

// List returns all configs from the current snapshot.
func (r *Registry) List() []model.PegConfig {
	snap := r.Snapshot()
	out := make([]model.PegConfig, 0, snap.Len())
	for _, cur := range snap.order {
		out = append(out, snap.configs[cur])
	}
	return out
}

func (r *Registry) copyLocked() *Snapshot {
	next := &Snapshot{
		Version: r.current.Version + 1,
		configs: make(map[model.Currency]model.PegConfig, len(r.current.configs)),
		order:   append([]model.Currency(nil), r.current.order...),
	}
	for k, v := range r.current.configs {
		next.configs[k] = v
	}
	return next
}
