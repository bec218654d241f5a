package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/attest"
	"github.com/serpworks/serpd/internal/ledger"
	"github.com/serpworks/serpd/internal/model"
	"github.com/serpworks/serpd/internal/pkg/apperrors"
	"github.com/serpworks/serpd/internal/pkg/logger"
	"github.com/serpworks/serpd/internal/pkg/metrics"
)

// Log is the append-only settlement record store. Appends must be idempotent
// on record ID; the log is the single source of truth for what has settled.
type Log interface {
	Append(ctx context.Context, rec *model.SettlementRecord) error
	LastDigest(ctx context.Context, currency model.Currency) (string, error)
	// CommittedAt returns the committed record for (currency, height), if any.
	CommittedAt(ctx context.Context, currency model.Currency, height uint64) (*model.SettlementRecord, bool, error)
	List(ctx context.Context, currency model.Currency, limit int) ([]*model.SettlementRecord, error)
	// CommittedSums aggregates supply and reserve deltas over committed records.
	CommittedSums(ctx context.Context, currency model.Currency) (supply, reserve decimal.Decimal, count int, err error)
}

type cycleState int

const (
	stateIdle cycleState = iota
	stateSettling
)

// Settler executes adjustment orders as atomic balance movements against the
// ledger, enforcing solvency and strict per-currency serialization.
type Settler struct {
	ledger   ledger.Ledger
	log      Log
	attestor *attest.Attestor

	mu    sync.Mutex
	state map[model.Currency]cycleState

	now func() time.Time
}

func NewSettler(book ledger.Ledger, log Log) *Settler {
	return &Settler{
		ledger: book,
		log:    log,
		state:  make(map[model.Currency]cycleState),
		now:    time.Now,
	}
}

// SetClock overrides record timestamps for deterministic tests.
func (s *Settler) SetClock(now func() time.Time) { s.now = now }

// SetAttestor makes every appended record carry an operator signature over
// its digest.
func (s *Settler) SetAttestor(a *attest.Attestor) { s.attestor = a }

// acquire flips the per-currency state tag Idle -> Settling. Check-and-set
// under one mutex; the tag, not the mutex, is what serializes settlements so
// a held tag is observable across goroutines for the whole settle window.
func (s *Settler) acquire(currency model.Currency) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state[currency] == stateSettling {
		return false
	}
	s.state[currency] = stateSettling
	return true
}

func (s *Settler) release(currency model.Currency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[currency] = stateIdle
}

// Settle runs one order to a terminal outcome. Every terminal outcome,
// Committed or Rejected, appends exactly one record before the currency
// returns to Idle. Replaying a height that already committed returns the
// prior record without touching the ledger.
func (s *Settler) Settle(ctx context.Context, order model.AdjustmentOrder, cfg model.PegConfig) (*model.SettlementRecord, error) {
	if order.Direction == model.DirectionNone {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, "settle: direction must not be none", nil)
	}
	if !order.Magnitude.IsPositive() {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, "settle: magnitude must be positive", nil)
	}
	currency := order.Currency.Normalized()

	if !s.acquire(currency) {
		return nil, apperrors.Newf(apperrors.ErrSettlementInFlight,
			"settlement already in flight for %s", currency)
	}
	defer s.release(currency)

	// Idempotence guard: the log is consulted before acting.
	if prior, ok, err := s.log.CommittedAt(ctx, currency, order.ComputedAt); err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "settlement log read failed", err)
	} else if ok {
		logger.Debug("Settlement replayed, already committed",
			"currency", currency, "height", order.ComputedAt)
		return prior, nil
	}

	cover := order.Magnitude.Mul(cfg.ReserveRatio)
	reserveAcct := model.ReserveAccountID(currency)

	reserveBal, err := s.ledger.Balance(ctx, reserveAcct, cfg.ReserveCurrency)
	if err != nil {
		return s.reject(ctx, order, model.RejectLedgerError, err)
	}
	// Solvency gate (both directions): expansion demands the backing floor
	// before supply grows, contraction pays the buyback out of the reserve.
	if reserveBal.LessThan(cover) {
		return s.reject(ctx, order, model.RejectInsufficientReserve, nil)
	}

	var supplyDelta, reserveDelta decimal.Decimal
	switch order.Direction {
	case model.DirectionExpand:
		supplyDelta, reserveDelta, err = s.expand(ctx, order, cfg, cover)
	case model.DirectionContract:
		supplyDelta, reserveDelta, err = s.contract(ctx, order, cfg, cover)
	}
	if err != nil {
		return s.reject(ctx, order, model.RejectLedgerError, err)
	}

	rec, err := s.append(ctx, order, supplyDelta, reserveDelta, model.OutcomeCommitted, "")
	if err != nil {
		return nil, err
	}
	metrics.SettlementsTotal.WithLabelValues(string(currency), string(order.Direction), string(model.OutcomeCommitted)).Inc()
	if bal, balErr := s.ledger.Balance(ctx, reserveAcct, cfg.ReserveCurrency); balErr == nil {
		balF, _ := bal.Float64()
		metrics.ReserveBalance.WithLabelValues(string(currency)).Set(balF)
	}
	logger.Info("Settlement committed",
		"currency", currency,
		"direction", order.Direction,
		"magnitude", order.Magnitude.String(),
		"reserve_delta", reserveDelta.String(),
		"height", order.ComputedAt)
	return rec, nil
}

// expand mints new peg supply to the treasury, then books the sale proceeds
// into the reserve account. Mint first, reserve movement second; a failed
// second phase reverses the mint.
func (s *Settler) expand(ctx context.Context, order model.AdjustmentOrder, cfg model.PegConfig, cover decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	currency := order.Currency.Normalized()
	if err := s.ledger.Mint(ctx, currency, model.TreasuryAccountID, order.Magnitude); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if err := s.ledger.Transfer(ctx, model.TreasuryAccountID, model.ReserveAccountID(currency), cfg.ReserveCurrency, cover); err != nil {
		// Compensating action: the mint and the reserve credit are not one
		// transaction, so the mint must be unwound by hand.
		if compErr := s.ledger.Burn(ctx, currency, model.TreasuryAccountID, order.Magnitude); compErr != nil {
			logger.Error("Compensation failed after reserve credit failure; ledger requires manual reconciliation",
				"currency", currency, "magnitude", order.Magnitude.String(), "error", compErr)
		}
		return decimal.Zero, decimal.Zero, err
	}
	return order.Magnitude, cover, nil
}

// contract burns peg supply from the treasury, then releases the buyback
// cover from the reserve account back to the treasury pool. Burn first; a
// failed release re-mints.
func (s *Settler) contract(ctx context.Context, order model.AdjustmentOrder, cfg model.PegConfig, cover decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	currency := order.Currency.Normalized()
	if err := s.ledger.Burn(ctx, currency, model.TreasuryAccountID, order.Magnitude); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if err := s.ledger.Transfer(ctx, model.ReserveAccountID(currency), model.TreasuryAccountID, cfg.ReserveCurrency, cover); err != nil {
		if compErr := s.ledger.Mint(ctx, currency, model.TreasuryAccountID, order.Magnitude); compErr != nil {
			logger.Error("Compensation failed after reserve release failure; ledger requires manual reconciliation",
				"currency", currency, "magnitude", order.Magnitude.String(), "error", compErr)
		}
		return decimal.Zero, decimal.Zero, err
	}
	return order.Magnitude.Neg(), cover.Neg(), nil
}

func (s *Settler) reject(ctx context.Context, order model.AdjustmentOrder, reason string, cause error) (*model.SettlementRecord, error) {
	metrics.SettlementRejects.WithLabelValues(reason).Inc()
	metrics.SettlementsTotal.WithLabelValues(string(order.Currency.Normalized()), string(order.Direction), string(model.OutcomeRejected)).Inc()
	logger.Warn("Settlement rejected",
		"currency", order.Currency,
		"direction", order.Direction,
		"magnitude", order.Magnitude.String(),
		"height", order.ComputedAt,
		"reason", reason,
		"cause", errString(cause))
	return s.append(ctx, order, decimal.Zero, decimal.Zero, model.OutcomeRejected, reason)
}

func (s *Settler) append(ctx context.Context, order model.AdjustmentOrder, supplyDelta, reserveDelta decimal.Decimal, outcome model.Outcome, reason string) (*model.SettlementRecord, error) {
	prev, err := s.log.LastDigest(ctx, order.Currency.Normalized())
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "settlement log read failed", err)
	}
	rec := &model.SettlementRecord{
		ID:           uuid.NewString(),
		Order:        order,
		SupplyDelta:  supplyDelta,
		ReserveDelta: reserveDelta,
		ExecutedAt:   order.ComputedAt,
		Outcome:      outcome,
		Reason:       reason,
		PrevDigest:   prev,
		CreatedAt:    s.now().UTC(),
	}
	digest, err := rec.ComputeDigest()
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "settlement record digest failed", err)
	}
	rec.Digest = digest
	if s.attestor != nil {
		sig, err := s.attestor.Sign(digest)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrInternal, "settlement record attestation failed", err)
		}
		rec.Signature = sig
	}
	if err := s.log.Append(ctx, rec); err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "settlement log append failed", err)
	}
	return rec, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
