package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/model"
)

// PostgresPegStore persists peg configurations behind the registry.
type PostgresPegStore struct {
	db *sqlx.DB
}

func NewPostgresPegStore(db *sqlx.DB) *PostgresPegStore {
	repo := &PostgresPegStore{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresPegStore) Upsert(ctx context.Context, cfg model.PegConfig) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO serp_pegs (
			currency, peg_price, tolerance_band, max_step,
			reserve_ratio, reserve_currency, reference_quote, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (currency)
		DO UPDATE SET peg_price = $2, tolerance_band = $3, max_step = $4,
		              reserve_ratio = $5, reserve_currency = $6,
		              reference_quote = $7, updated_at = $8
	`, string(cfg.Currency.Normalized()), cfg.PegPrice.String(), cfg.ToleranceBand.String(), cfg.MaxStep.String(),
		cfg.ReserveRatio.String(), string(cfg.ReserveCurrency.Normalized()), string(cfg.ReferenceQuote.Normalized()),
		time.Now().UTC())
	return err
}

func (r *PostgresPegStore) Delete(ctx context.Context, currency model.Currency) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM serp_pegs WHERE currency = $1`, string(currency.Normalized()))
	return err
}

func (r *PostgresPegStore) LoadAll(ctx context.Context) ([]model.PegConfig, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT currency, peg_price, tolerance_band, max_step,
		       reserve_ratio, reserve_currency, reference_quote, updated_at
		FROM serp_pegs ORDER BY currency
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []model.PegConfig
	for rows.Next() {
		var (
			cfg                                            model.PegConfig
			currency, reserveCurrency, referenceQuote      string
			pegPrice, toleranceBand, maxStep, reserveRatio string
		)
		if err := rows.Scan(&currency, &pegPrice, &toleranceBand, &maxStep,
			&reserveRatio, &reserveCurrency, &referenceQuote, &cfg.UpdatedAt); err != nil {
			return nil, err
		}
		if cfg.PegPrice, err = decimal.NewFromString(pegPrice); err != nil {
			return nil, err
		}
		if cfg.ToleranceBand, err = decimal.NewFromString(toleranceBand); err != nil {
			return nil, err
		}
		if cfg.MaxStep, err = decimal.NewFromString(maxStep); err != nil {
			return nil, err
		}
		if cfg.ReserveRatio, err = decimal.NewFromString(reserveRatio); err != nil {
			return nil, err
		}
		cfg.Currency = model.Currency(currency)
		cfg.ReserveCurrency = model.Currency(reserveCurrency)
		cfg.ReferenceQuote = model.Currency(referenceQuote)
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (r *PostgresPegStore) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS serp_pegs (
			currency TEXT PRIMARY KEY,
			peg_price NUMERIC NOT NULL,
			tolerance_band NUMERIC NOT NULL,
			max_step NUMERIC NOT NULL,
			reserve_ratio NUMERIC NOT NULL,
			reserve_currency TEXT NOT NULL,
			reference_quote TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}
