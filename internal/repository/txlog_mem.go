package repository

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/model"
)

// MemoryTxLog is the in-process settlement log used when no database is
// configured, and by the test suites. Append-only; records are copied on the
// way in and out.
type MemoryTxLog struct {
	mu      sync.RWMutex
	records []*model.SettlementRecord
	byID    map[string]struct{}
}

func NewMemoryTxLog() *MemoryTxLog {
	return &MemoryTxLog{byID: make(map[string]struct{})}
}

func (l *MemoryTxLog) Append(ctx context.Context, rec *model.SettlementRecord) error {
	if rec == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[rec.ID]; ok {
		return nil
	}
	clone := *rec
	l.records = append(l.records, &clone)
	l.byID[rec.ID] = struct{}{}
	return nil
}

func (l *MemoryTxLog) LastDigest(ctx context.Context, currency model.Currency) (string, error) {
	cur := currency.Normalized()
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].Order.Currency.Normalized() == cur {
			return l.records[i].Digest, nil
		}
	}
	return "", nil
}

func (l *MemoryTxLog) CommittedAt(ctx context.Context, currency model.Currency, height uint64) (*model.SettlementRecord, bool, error) {
	cur := currency.Normalized()
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		rec := l.records[i]
		if rec.Order.Currency.Normalized() == cur && rec.ExecutedAt == height && rec.Committed() {
			clone := *rec
			return &clone, true, nil
		}
	}
	return nil, false, nil
}

func (l *MemoryTxLog) List(ctx context.Context, currency model.Currency, limit int) ([]*model.SettlementRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	cur := currency.Normalized()
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*model.SettlementRecord, 0, limit)
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := l.records[i]
		if !currency.Empty() && rec.Order.Currency.Normalized() != cur {
			continue
		}
		clone := *rec
		out = append(out, &clone)
	}
	return out, nil
}

func (l *MemoryTxLog) CommittedSums(ctx context.Context, currency model.Currency) (decimal.Decimal, decimal.Decimal, int, error) {
	cur := currency.Normalized()
	l.mu.RLock()
	defer l.mu.RUnlock()
	supply, reserve := decimal.Zero, decimal.Zero
	count := 0
	for _, rec := range l.records {
		if rec.Order.Currency.Normalized() != cur || !rec.Committed() {
			continue
		}
		supply = supply.Add(rec.SupplyDelta)
		reserve = reserve.Add(rec.ReserveDelta)
		count++
	}
	return supply, reserve, count, nil
}

// All returns every record in append order. Audit tooling only.
func (l *MemoryTxLog) All(ctx context.Context) ([]*model.SettlementRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*model.SettlementRecord, 0, len(l.records))
	for _, rec := range l.records {
		clone := *rec
		out = append(out, &clone)
	}
	return out, nil
}
