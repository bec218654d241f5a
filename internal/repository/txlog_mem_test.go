package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serpworks/serpd/internal/model"
)

func record(id string, currency model.Currency, height uint64, outcome model.Outcome, supplyDelta int64) *model.SettlementRecord {
	return &model.SettlementRecord{
		ID: id,
		Order: model.AdjustmentOrder{
			Currency:   currency,
			Direction:  model.DirectionExpand,
			Magnitude:  decimal.NewFromInt(supplyDelta).Abs(),
			ComputedAt: height,
		},
		SupplyDelta:  decimal.NewFromInt(supplyDelta),
		ReserveDelta: decimal.NewFromInt(supplyDelta / 2),
		ExecutedAt:   height,
		Outcome:      outcome,
		Digest:       fmt.Sprintf("0x%s", id),
	}
}

func TestMemoryTxLog_AppendIsIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryTxLog()
	rec := record("a", "SRD", 1, model.OutcomeCommitted, 100)

	require.NoError(t, log.Append(ctx, rec))
	require.NoError(t, log.Append(ctx, rec))

	all, err := log.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryTxLog_LastDigestPerCurrency(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryTxLog()
	require.NoError(t, log.Append(ctx, record("a", "SRD", 1, model.OutcomeCommitted, 100)))
	require.NoError(t, log.Append(ctx, record("b", "KRW", 1, model.OutcomeCommitted, 100)))
	require.NoError(t, log.Append(ctx, record("c", "SRD", 2, model.OutcomeRejected, 0)))

	digest, err := log.LastDigest(ctx, "srd")
	require.NoError(t, err)
	assert.Equal(t, "0xc", digest)

	digest, err = log.LastDigest(ctx, "JPY")
	require.NoError(t, err)
	assert.Empty(t, digest, "empty chain starts at the empty digest")
}

func TestMemoryTxLog_CommittedAtIgnoresRejections(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryTxLog()
	require.NoError(t, log.Append(ctx, record("a", "SRD", 1, model.OutcomeRejected, 0)))

	_, ok, err := log.CommittedAt(ctx, "SRD", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, log.Append(ctx, record("b", "SRD", 1, model.OutcomeCommitted, 100)))
	rec, ok, err := log.CommittedAt(ctx, "SRD", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", rec.ID)
}

func TestMemoryTxLog_ListNewestFirstWithFilter(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryTxLog()
	require.NoError(t, log.Append(ctx, record("a", "SRD", 1, model.OutcomeCommitted, 100)))
	require.NoError(t, log.Append(ctx, record("b", "KRW", 1, model.OutcomeCommitted, 100)))
	require.NoError(t, log.Append(ctx, record("c", "SRD", 2, model.OutcomeCommitted, 200)))

	out, err := log.List(ctx, "SRD", 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "a", out[1].ID)

	all, err := log.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryTxLog_CommittedSums(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryTxLog()
	require.NoError(t, log.Append(ctx, record("a", "SRD", 1, model.OutcomeCommitted, 100)))
	require.NoError(t, log.Append(ctx, record("b", "SRD", 2, model.OutcomeCommitted, -40)))
	require.NoError(t, log.Append(ctx, record("c", "SRD", 3, model.OutcomeRejected, 999)))

	supply, reserve, count, err := log.CommittedSums(ctx, "SRD")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, supply.Equal(decimal.NewFromInt(60)))
	assert.True(t, reserve.Equal(decimal.NewFromInt(30)))
}

// Chain reads follow append order even when records share a wall-clock
// timestamp; two settlements can land in the same microsecond.
func TestMemoryTxLog_AppendOrderIndependentOfTimestamps(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryTxLog()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := record("a", "SRD", 1, model.OutcomeCommitted, 100)
	first.CreatedAt = ts
	second := record("b", "SRD", 2, model.OutcomeCommitted, 100)
	second.PrevDigest = first.Digest
	second.CreatedAt = ts

	require.NoError(t, log.Append(ctx, first))
	require.NoError(t, log.Append(ctx, second))

	digest, err := log.LastDigest(ctx, "SRD")
	require.NoError(t, err)
	assert.Equal(t, "0xb", digest)

	all, err := log.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, all[0].Digest, all[1].PrevDigest)
}

func TestMemoryTxLog_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryTxLog()
	require.NoError(t, log.Append(ctx, record("a", "SRD", 1, model.OutcomeCommitted, 100)))

	out, err := log.List(ctx, "SRD", 1)
	require.NoError(t, err)
	out[0].Digest = "mutated"

	again, err := log.List(ctx, "SRD", 1)
	require.NoError(t, err)
	assert.Equal(t, "0xa", again[0].Digest)
}
