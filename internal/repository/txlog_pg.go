package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/model"
)

// PostgresTxLog persists the append-only settlement log. Inserts are
// idempotent on record ID (ON CONFLICT DO NOTHING); rows are never updated or
// deleted. The seq column fixes append order for chain reads; created_at is
// informational and same-timestamp rows must not reorder the chain.
type PostgresTxLog struct {
	db *sqlx.DB
}

func NewPostgresTxLog(db *sqlx.DB) *PostgresTxLog {
	repo := &PostgresTxLog{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresTxLog) Append(ctx context.Context, rec *model.SettlementRecord) error {
	if rec == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO serp_settlements (
			id, currency, direction, magnitude,
			reserve_delta, supply_delta, executed_at,
			outcome, reason, prev_digest, digest, signature, created_at
		) VALUES (
			$1,$2,$3,$4,
			$5,$6,$7,
			$8,$9,$10,$11,$12,$13
		)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, string(rec.Order.Currency.Normalized()), string(rec.Order.Direction), rec.Order.Magnitude.String(),
		rec.ReserveDelta.String(), rec.SupplyDelta.String(), int64(rec.ExecutedAt),
		string(rec.Outcome), rec.Reason, rec.PrevDigest, rec.Digest, rec.Signature, rec.CreatedAt)
	return err
}

func (r *PostgresTxLog) LastDigest(ctx context.Context, currency model.Currency) (string, error) {
	var digest string
	err := r.db.QueryRowxContext(ctx, `
		SELECT digest FROM serp_settlements
		WHERE currency = $1
		ORDER BY seq DESC
		LIMIT 1
	`, string(currency.Normalized())).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return digest, nil
}

func (r *PostgresTxLog) CommittedAt(ctx context.Context, currency model.Currency, height uint64) (*model.SettlementRecord, bool, error) {
	row := r.db.QueryRowxContext(ctx, `
		SELECT id, currency, direction, magnitude, reserve_delta, supply_delta,
		       executed_at, outcome, reason, prev_digest, digest, signature, created_at
		FROM serp_settlements
		WHERE currency = $1 AND executed_at = $2 AND outcome = $3
		ORDER BY seq DESC
		LIMIT 1
	`, string(currency.Normalized()), int64(height), string(model.OutcomeCommitted))
	rec, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (r *PostgresTxLog) List(ctx context.Context, currency model.Currency, limit int) ([]*model.SettlementRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, currency, direction, magnitude, reserve_delta, supply_delta,
	                 executed_at, outcome, reason, prev_digest, digest, signature, created_at
	          FROM serp_settlements`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if !currency.Empty() {
		clauses = append(clauses, fmt.Sprintf("currency = $%d", idx))
		args = append(args, string(currency.Normalized()))
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*model.SettlementRecord, 0, limit)
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresTxLog) CommittedSums(ctx context.Context, currency model.Currency) (decimal.Decimal, decimal.Decimal, int, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT supply_delta, reserve_delta FROM serp_settlements
		WHERE currency = $1 AND outcome = $2
	`, string(currency.Normalized()), string(model.OutcomeCommitted))
	if err != nil {
		return decimal.Zero, decimal.Zero, 0, err
	}
	defer rows.Close()

	supply, reserve := decimal.Zero, decimal.Zero
	count := 0
	for rows.Next() {
		var supplyRaw, reserveRaw string
		if err := rows.Scan(&supplyRaw, &reserveRaw); err != nil {
			return decimal.Zero, decimal.Zero, 0, err
		}
		s, err := decimal.NewFromString(supplyRaw)
		if err != nil {
			return decimal.Zero, decimal.Zero, 0, err
		}
		v, err := decimal.NewFromString(reserveRaw)
		if err != nil {
			return decimal.Zero, decimal.Zero, 0, err
		}
		supply = supply.Add(s)
		reserve = reserve.Add(v)
		count++
	}
	return supply, reserve, count, rows.Err()
}

// All streams the full log in append order for audit replay.
func (r *PostgresTxLog) All(ctx context.Context) ([]*model.SettlementRecord, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, currency, direction, magnitude, reserve_delta, supply_delta,
		       executed_at, outcome, reason, prev_digest, digest, signature, created_at
		FROM serp_settlements
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSettlement(row rowScanner) (*model.SettlementRecord, error) {
	var (
		rec          model.SettlementRecord
		currency     string
		direction    string
		magnitudeRaw string
		reserveRaw   string
		supplyRaw    string
		executedAt   int64
		outcome      string
		createdAt    time.Time
	)
	if err := row.Scan(
		&rec.ID,
		&currency,
		&direction,
		&magnitudeRaw,
		&reserveRaw,
		&supplyRaw,
		&executedAt,
		&outcome,
		&rec.Reason,
		&rec.PrevDigest,
		&rec.Digest,
		&rec.Signature,
		&createdAt,
	); err != nil {
		return nil, err
	}
	magnitude, err := decimal.NewFromString(magnitudeRaw)
	if err != nil {
		return nil, err
	}
	reserveDelta, err := decimal.NewFromString(reserveRaw)
	if err != nil {
		return nil, err
	}
	supplyDelta, err := decimal.NewFromString(supplyRaw)
	if err != nil {
		return nil, err
	}
	rec.Order = model.AdjustmentOrder{
		Currency:   model.Currency(currency),
		Direction:  model.Direction(direction),
		Magnitude:  magnitude,
		ComputedAt: uint64(executedAt),
	}
	rec.ReserveDelta = reserveDelta
	rec.SupplyDelta = supplyDelta
	rec.ExecutedAt = uint64(executedAt)
	rec.Outcome = model.Outcome(outcome)
	rec.CreatedAt = createdAt
	return &rec, nil
}

func (r *PostgresTxLog) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS serp_settlements (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			currency TEXT NOT NULL,
			direction TEXT NOT NULL,
			magnitude NUMERIC NOT NULL,
			reserve_delta NUMERIC NOT NULL,
			supply_delta NUMERIC NOT NULL,
			executed_at BIGINT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			prev_digest TEXT NOT NULL DEFAULT '',
			digest TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_serp_settlements_currency ON serp_settlements(currency, seq DESC)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_serp_settlements_height ON serp_settlements(currency, executed_at)`)
	return nil
}
