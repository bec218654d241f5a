package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SetPegRequest is the governance payload for registering or updating a peg.
type SetPegRequest struct {
	PegPrice        decimal.Decimal `json:"peg_price" binding:"required"`
	ToleranceBand   decimal.Decimal `json:"tolerance_band"`
	MaxStep         decimal.Decimal `json:"max_step" binding:"required"`
	ReserveRatio    decimal.Decimal `json:"reserve_ratio"`
	ReserveCurrency Currency        `json:"reserve_currency" binding:"required"`
	ReferenceQuote  Currency        `json:"reference_quote" binding:"required"`
}

// PricePushRequest feeds a quote into the manual oracle source.
type PricePushRequest struct {
	Base  Currency        `json:"base" binding:"required"`
	Quote Currency        `json:"quote" binding:"required"`
	Price decimal.Decimal `json:"price" binding:"required"`
}

// CycleRequest triggers one adjustment pass at the given height. Height zero
// means "next height after the current watermark".
type CycleRequest struct {
	Height uint64 `json:"height"`
}

// CycleResponse summarizes one pass.
type CycleResponse struct {
	Height    uint64              `json:"height"`
	Processed int                 `json:"processed"`
	Skipped   int                 `json:"skipped"`
	Records   []*SettlementRecord `json:"records,omitempty"`
}

// SupplyAuditResponse is the log-derived supply reconstruction for a currency.
type SupplyAuditResponse struct {
	Currency       Currency        `json:"currency"`
	CommittedCount int             `json:"committed_count"`
	SupplyDelta    decimal.Decimal `json:"supply_delta"`
	ReserveDelta   decimal.Decimal `json:"reserve_delta"`
	LedgerSupply   decimal.Decimal `json:"ledger_supply"`
	Consistent     bool            `json:"consistent"`
	AsOf           time.Time       `json:"as_of"`
}
