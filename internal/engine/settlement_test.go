package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serpworks/serpd/internal/attest"
	"github.com/serpworks/serpd/internal/ledger"
	"github.com/serpworks/serpd/internal/model"
	"github.com/serpworks/serpd/internal/pkg/apperrors"
	"github.com/serpworks/serpd/internal/repository"
)

func newTestSettler() (*Settler, *ledger.Memory, *repository.MemoryTxLog) {
	book := ledger.NewMemory()
	log := repository.NewMemoryTxLog()
	return NewSettler(book, log), book, log
}

func fund(t *testing.T, book *ledger.Memory, currency model.Currency, account, amount string) {
	t.Helper()
	require.NoError(t, book.Mint(context.Background(), currency, account, dec(amount)))
}

func expandOrder(magnitude string, height uint64) model.AdjustmentOrder {
	return model.AdjustmentOrder{
		Currency:   "SRD",
		Direction:  model.DirectionExpand,
		Magnitude:  dec(magnitude),
		ComputedAt: height,
	}
}

func contractOrder(magnitude string, height uint64) model.AdjustmentOrder {
	return model.AdjustmentOrder{
		Currency:   "SRD",
		Direction:  model.DirectionContract,
		Magnitude:  dec(magnitude),
		ComputedAt: height,
	}
}

func TestSettle_ExpandMintsAndBooksCover(t *testing.T) {
	ctx := context.Background()
	s, book, _ := newTestSettler()
	cfg := testPegConfig()
	reserveAcct := model.ReserveAccountID("SRD")

	fund(t, book, "USD", reserveAcct, "1000")
	fund(t, book, "USD", model.TreasuryAccountID, "1000")

	rec, err := s.Settle(ctx, expandOrder("100", 1), cfg)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, model.OutcomeCommitted, rec.Outcome)
	assert.True(t, rec.SupplyDelta.Equal(dec("100")))
	assert.True(t, rec.ReserveDelta.Equal(dec("50")), "cover = magnitude * ratio")

	supply, _ := book.TotalIssuance(ctx, "SRD")
	assert.True(t, supply.Equal(dec("100")))
	reserveBal, _ := book.Balance(ctx, reserveAcct, "USD")
	assert.True(t, reserveBal.Equal(dec("1050")))
	treasuryUSD, _ := book.Balance(ctx, model.TreasuryAccountID, "USD")
	assert.True(t, treasuryUSD.Equal(dec("950")))
}

func TestSettle_ContractBurnsAndReleasesCover(t *testing.T) {
	ctx := context.Background()
	s, book, _ := newTestSettler()
	cfg := testPegConfig()
	reserveAcct := model.ReserveAccountID("SRD")

	fund(t, book, "SRD", model.TreasuryAccountID, "1000")
	fund(t, book, "USD", reserveAcct, "1000")

	rec, err := s.Settle(ctx, contractOrder("200", 1), cfg)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeCommitted, rec.Outcome)
	assert.True(t, rec.SupplyDelta.Equal(dec("-200")))
	assert.True(t, rec.ReserveDelta.Equal(dec("-100")))

	supply, _ := book.TotalIssuance(ctx, "SRD")
	assert.True(t, supply.Equal(dec("800")))
	reserveBal, _ := book.Balance(ctx, reserveAcct, "USD")
	assert.True(t, reserveBal.Equal(dec("900")))
	treasuryUSD, _ := book.Balance(ctx, model.TreasuryAccountID, "USD")
	assert.True(t, treasuryUSD.Equal(dec("100")))
}

func TestSettle_InsufficientReserveRejectsWithoutMutation(t *testing.T) {
	ctx := context.Background()
	s, book, _ := newTestSettler()
	cfg := testPegConfig()
	reserveAcct := model.ReserveAccountID("SRD")

	fund(t, book, "SRD", model.TreasuryAccountID, "1000")
	fund(t, book, "USD", reserveAcct, "10") // cover would be 100

	rec, err := s.Settle(ctx, contractOrder("200", 1), cfg)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeRejected, rec.Outcome)
	assert.Equal(t, model.RejectInsufficientReserve, rec.Reason)
	assert.True(t, rec.SupplyDelta.IsZero())
	assert.True(t, rec.ReserveDelta.IsZero())

	supply, _ := book.TotalIssuance(ctx, "SRD")
	assert.True(t, supply.Equal(dec("1000")), "rejection must not touch supply")
	reserveBal, _ := book.Balance(ctx, reserveAcct, "USD")
	assert.True(t, reserveBal.Equal(dec("10")))
}

func TestSettle_ExpandCompensatesFailedReserveCredit(t *testing.T) {
	ctx := context.Background()
	s, book, _ := newTestSettler()
	cfg := testPegConfig()

	// Reserve passes the solvency gate but the treasury has no float, so the
	// proceeds transfer fails after the mint. The mint must be unwound.
	fund(t, book, "USD", model.ReserveAccountID("SRD"), "1000")

	rec, err := s.Settle(ctx, expandOrder("100", 1), cfg)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeRejected, rec.Outcome)
	assert.Equal(t, model.RejectLedgerError, rec.Reason)

	supply, _ := book.TotalIssuance(ctx, "SRD")
	assert.True(t, supply.IsZero(), "compensating burn must undo the mint")
}

func TestSettle_ContractCompensatesFailedReserveRelease(t *testing.T) {
	ctx := context.Background()
	s, book, _ := newTestSettler()
	cfg := testPegConfig()

	fund(t, book, "SRD", model.TreasuryAccountID, "1000")
	fund(t, book, "USD", model.ReserveAccountID("SRD"), "1000")

	injected := errors.New("reserve backend unavailable")
	book.FailNext(func(op string, currency model.Currency) error {
		if op == "transfer" {
			return injected
		}
		return nil
	})

	rec, err := s.Settle(ctx, contractOrder("200", 1), cfg)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeRejected, rec.Outcome)
	assert.Equal(t, model.RejectLedgerError, rec.Reason)

	supply, _ := book.TotalIssuance(ctx, "SRD")
	assert.True(t, supply.Equal(dec("1000")), "compensating mint must undo the burn")
	reserveBal, _ := book.Balance(ctx, model.ReserveAccountID("SRD"), "USD")
	assert.True(t, reserveBal.Equal(dec("1000")))
}

func TestSettle_InFlightConflict(t *testing.T) {
	ctx := context.Background()
	s, book, _ := newTestSettler()
	cfg := testPegConfig()

	fund(t, book, "USD", model.ReserveAccountID("SRD"), "1000")
	fund(t, book, "USD", model.TreasuryAccountID, "1000")

	require.True(t, s.acquire("SRD"))
	defer s.release("SRD")

	_, err := s.Settle(ctx, expandOrder("100", 1), cfg)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrSettlementInFlight))

	supply, _ := book.TotalIssuance(ctx, "SRD")
	assert.True(t, supply.IsZero())
}

func TestSettle_ReplayedHeightReturnsPriorRecord(t *testing.T) {
	ctx := context.Background()
	s, book, _ := newTestSettler()
	cfg := testPegConfig()

	fund(t, book, "USD", model.ReserveAccountID("SRD"), "1000")
	fund(t, book, "USD", model.TreasuryAccountID, "1000")

	first, err := s.Settle(ctx, expandOrder("100", 5), cfg)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeCommitted, first.Outcome)

	second, err := s.Settle(ctx, expandOrder("100", 5), cfg)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	supply, _ := book.TotalIssuance(ctx, "SRD")
	assert.True(t, supply.Equal(dec("100")), "replay must not re-run the mint")
}

func TestSettle_RecordsChainDigests(t *testing.T) {
	ctx := context.Background()
	s, book, log := newTestSettler()
	cfg := testPegConfig()

	fund(t, book, "SRD", model.TreasuryAccountID, "1000")
	fund(t, book, "USD", model.ReserveAccountID("SRD"), "1000")
	fund(t, book, "USD", model.TreasuryAccountID, "1000")

	first, err := s.Settle(ctx, expandOrder("100", 1), cfg)
	require.NoError(t, err)
	second, err := s.Settle(ctx, contractOrder("50", 2), cfg)
	require.NoError(t, err)

	assert.Empty(t, first.PrevDigest)
	assert.Equal(t, first.Digest, second.PrevDigest)
	assert.NoError(t, first.VerifyDigest())
	assert.NoError(t, second.VerifyDigest())

	last, err := log.LastDigest(ctx, "SRD")
	require.NoError(t, err)
	assert.Equal(t, second.Digest, last)
}

func TestSettle_AttestsRecordsWhenKeyConfigured(t *testing.T) {
	ctx := context.Background()
	s, book, _ := newTestSettler()
	cfg := testPegConfig()

	key, _ := ethcrypto.GenerateKey()
	attestor, err := attest.NewAttestor(hexutil.Encode(ethcrypto.FromECDSA(key))[2:])
	require.NoError(t, err)
	s.SetAttestor(attestor)

	fund(t, book, "USD", model.ReserveAccountID("SRD"), "1000")
	fund(t, book, "USD", model.TreasuryAccountID, "1000")

	rec, err := s.Settle(ctx, expandOrder("100", 1), cfg)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Signature)
	assert.NoError(t, attest.Verify(rec.Digest, rec.Signature, attestor.Address()))
}

// Settlements near the solvency boundary are all-or-nothing: either both
// balance movements land or neither does, and the reserve never goes
// negative. Magnitudes are drawn at random around the exact boundary
// (reserve / ratio = 2000), seeded for reproducibility.
func TestSettle_AtomicAroundReserveBoundary(t *testing.T) {
	ctx := context.Background()
	cfg := testPegConfig()

	rng := rand.New(rand.NewSource(1))
	magnitudes := []string{"1999", "2000", "2001", "5000"}
	for i := 0; i < 64; i++ {
		m := decimal.NewFromFloat(1900 + rng.Float64()*200).Round(8)
		magnitudes = append(magnitudes, m.String())
	}

	for _, magnitude := range magnitudes {
		s, book, _ := newTestSettler()
		fund(t, book, "SRD", model.TreasuryAccountID, "10000")
		fund(t, book, "USD", model.ReserveAccountID("SRD"), "1000")

		rec, err := s.Settle(ctx, contractOrder(magnitude, 1), cfg)
		require.NoError(t, err, "magnitude %s", magnitude)

		supply, _ := book.TotalIssuance(ctx, "SRD")
		reserveBal, _ := book.Balance(ctx, model.ReserveAccountID("SRD"), "USD")
		require.False(t, reserveBal.IsNegative(), "magnitude %s", magnitude)
		if rec.Committed() {
			assert.True(t, dec(magnitude).Mul(cfg.ReserveRatio).LessThanOrEqual(dec("1000")),
				"magnitude %s committed past the boundary", magnitude)
			assert.True(t, supply.Equal(dec("10000").Sub(dec(magnitude))), "magnitude %s", magnitude)
			assert.True(t, reserveBal.Equal(dec("1000").Add(rec.ReserveDelta)), "magnitude %s", magnitude)
		} else {
			assert.Equal(t, model.RejectInsufficientReserve, rec.Reason)
			assert.True(t, supply.Equal(dec("10000")), "magnitude %s", magnitude)
			assert.True(t, reserveBal.Equal(dec("1000")), "magnitude %s", magnitude)
		}
	}
}
