package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/ledger"
	"github.com/serpworks/serpd/internal/model"
	"github.com/serpworks/serpd/internal/pkg/logger"
	"github.com/serpworks/serpd/internal/pkg/metrics"
	"github.com/serpworks/serpd/internal/registry"
)

// Observer is the oracle adapter surface the runner consumes.
type Observer interface {
	Observe(pair model.Pair, height uint64) (model.PriceObservation, bool)
}

// WatermarkStore tracks the last processed height per currency. Advance is a
// check-and-set: it returns false when the height has already been claimed,
// which makes replayed triggers no-ops.
type WatermarkStore interface {
	Last(ctx context.Context, currency model.Currency) (uint64, error)
	Advance(ctx context.Context, currency model.Currency, height uint64) (bool, error)
}

// MemoryWatermarks is the in-process WatermarkStore used when redis is not
// configured.
type MemoryWatermarks struct {
	mu    sync.Mutex
	marks map[model.Currency]uint64
}

func NewMemoryWatermarks() *MemoryWatermarks {
	return &MemoryWatermarks{marks: make(map[model.Currency]uint64)}
}

func (m *MemoryWatermarks) Last(ctx context.Context, currency model.Currency) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[currency.Normalized()], nil
}

func (m *MemoryWatermarks) Advance(ctx context.Context, currency model.Currency, height uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := currency.Normalized()
	if height <= m.marks[cur] {
		return false, nil
	}
	m.marks[cur] = height
	return true, nil
}

// Runner drives one pass of the pipeline per managed currency per height.
// Currencies proceed independently and in parallel; nothing mutable is shared
// across them except the ledger, which is atomic per call.
type Runner struct {
	reg     *registry.Registry
	oracle  Observer
	settler *Settler
	book    ledger.Ledger
	marks   WatermarkStore

	height atomic.Uint64
}

func NewRunner(reg *registry.Registry, obs Observer, settler *Settler, book ledger.Ledger, marks WatermarkStore) *Runner {
	return &Runner{
		reg:     reg,
		oracle:  obs,
		settler: settler,
		book:    book,
		marks:   marks,
	}
}

// NextHeight reserves and returns the next tick height.
func (r *Runner) NextHeight() uint64 {
	return r.height.Add(1)
}

// Height returns the current tick counter without advancing it.
func (r *Runner) Height() uint64 {
	return r.height.Load()
}

// SeedHeight fast-forwards the tick counter, typically to the persisted
// watermark maximum at startup.
func (r *Runner) SeedHeight(h uint64) {
	for {
		cur := r.height.Load()
		if h <= cur || r.height.CompareAndSwap(cur, h) {
			return
		}
	}
}

// RunCycle processes every managed currency at the given height. Errors are
// strictly local to one currency; the pass always runs to completion.
func (r *Runner) RunCycle(ctx context.Context, height uint64) *model.CycleResponse {
	snap := r.reg.Snapshot()
	resp := &model.CycleResponse{Height: height}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, currency := range snap.Currencies() {
		cfg, ok := snap.Get(currency)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(cfg model.PegConfig) {
			defer wg.Done()
			rec, processed := r.runCurrency(ctx, cfg, height)
			mu.Lock()
			defer mu.Unlock()
			if !processed {
				resp.Skipped++
				return
			}
			resp.Processed++
			if rec != nil {
				resp.Records = append(resp.Records, rec)
			}
		}(cfg)
	}
	wg.Wait()
	return resp
}

// runCurrency is the sequential per-currency pipeline:
// watermark claim -> oracle -> calculator -> settlement.
// Returns (record, processed); processed=false means the cycle was a no-op
// for this currency.
func (r *Runner) runCurrency(ctx context.Context, cfg model.PegConfig, height uint64) (*model.SettlementRecord, bool) {
	currency := cfg.Currency.Normalized()

	claimed, err := r.marks.Advance(ctx, currency, height)
	if err != nil {
		logger.Error("Watermark advance failed", "currency", currency, "height", height, "error", err)
		metrics.CyclesTotal.WithLabelValues(string(currency), "error").Inc()
		return nil, false
	}
	if !claimed {
		logger.Debug("Cycle already processed", "currency", currency, "height", height)
		metrics.CyclesTotal.WithLabelValues(string(currency), "replayed").Inc()
		return nil, false
	}

	obs, ok := r.oracle.Observe(cfg.Pair(), height)
	if !ok {
		logger.Warn("No observation for pair, skipping cycle", "pair", cfg.Pair().String(), "height", height)
		metrics.CyclesTotal.WithLabelValues(string(currency), "no_observation").Inc()
		return nil, false
	}

	supply, err := r.book.TotalIssuance(ctx, currency)
	if err != nil {
		logger.Error("Supply query failed", "currency", currency, "error", err)
		metrics.CyclesTotal.WithLabelValues(string(currency), "error").Inc()
		return nil, false
	}

	order, err := Compute(obs, cfg, supply)
	if err != nil {
		logger.Warn("Adjustment computation aborted", "currency", currency, "height", height, "error", err)
		metrics.CyclesTotal.WithLabelValues(string(currency), "compute_error").Inc()
		return nil, false
	}

	if !obs.IsStale && cfg.PegPrice.IsPositive() {
		dev, _ := obs.Price.Sub(cfg.PegPrice).Div(cfg.PegPrice).Float64()
		metrics.PegDeviation.WithLabelValues(string(currency)).Set(dev)
	}

	if order.Direction == model.DirectionNone {
		logger.Debug("Inside dead band or stale, no adjustment",
			"currency", currency, "height", height, "stale", obs.IsStale)
		metrics.CyclesTotal.WithLabelValues(string(currency), "no_adjustment").Inc()
		return nil, true
	}

	rec, err := r.settler.Settle(ctx, order, cfg)
	if err != nil {
		logger.Error("Settlement failed", "currency", currency, "height", height, "error", err)
		metrics.CyclesTotal.WithLabelValues(string(currency), "error").Inc()
		return nil, false
	}
	metrics.CyclesTotal.WithLabelValues(string(currency), "settled").Inc()
	return rec, true
}

// SupplyAudit reconstructs the supply position for one currency from the
// committed log and compares it with the ledger's live issuance.
func (r *Runner) SupplyAudit(ctx context.Context, currency model.Currency, log Log) (*model.SupplyAuditResponse, error) {
	cur := currency.Normalized()
	supplyDelta, reserveDelta, count, err := log.CommittedSums(ctx, cur)
	if err != nil {
		return nil, err
	}
	live, err := r.book.TotalIssuance(ctx, cur)
	if err != nil {
		return nil, err
	}
	return &model.SupplyAuditResponse{
		Currency:       cur,
		CommittedCount: count,
		SupplyDelta:    supplyDelta,
		ReserveDelta:   reserveDelta,
		LedgerSupply:   live,
		Consistent:     initialSupplyConsistent(live, supplyDelta),
		AsOf:           r.settler.now().UTC(),
	}, nil
}

// initialSupplyConsistent holds when ledger supply equals initial supply plus
// committed deltas. Initial supply is whatever was minted outside the engine
// (genesis funding), so consistency means live - delta is non-negative.
func initialSupplyConsistent(live, delta decimal.Decimal) bool {
	return !live.Sub(delta).IsNegative()
}
