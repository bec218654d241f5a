// Package ledger defines the currency/balance collaborator consumed by the
// settlement engine. Every call is atomic on its own; composite operations
// (mint plus reserve transfer) are coordinated by the engine with explicit
// compensation, not by the ledger.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/model"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrUnknownAccount    = errors.New("ledger: unknown account")
	ErrInvalidAmount     = errors.New("ledger: amount must be positive")
)

// Ledger is the external balance book. Implementations must refuse
// overdrafts and keep per-account operations atomic.
type Ledger interface {
	Mint(ctx context.Context, currency model.Currency, account string, amount decimal.Decimal) error
	Burn(ctx context.Context, currency model.Currency, account string, amount decimal.Decimal) error
	Transfer(ctx context.Context, from, to string, currency model.Currency, amount decimal.Decimal) error
	Balance(ctx context.Context, account string, currency model.Currency) (decimal.Decimal, error)
	// TotalIssuance reports the net minted supply of a currency.
	TotalIssuance(ctx context.Context, currency model.Currency) (decimal.Decimal, error)
}
