package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serpworks/serpd/internal/model"
)

func amt(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestMemory_MintTracksIssuance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Mint(ctx, "srd", "a", amt("100")))
	require.NoError(t, m.Mint(ctx, "SRD", "b", amt("50")))

	supply, err := m.TotalIssuance(ctx, "SRD")
	require.NoError(t, err)
	assert.True(t, supply.Equal(amt("150")), "currency is normalized")

	bal, _ := m.Balance(ctx, "a", "SRD")
	assert.True(t, bal.Equal(amt("100")))
}

func TestMemory_BurnRefusesOverdraft(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Mint(ctx, "SRD", "a", amt("100")))

	err := m.Burn(ctx, "SRD", "a", amt("101"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	bal, _ := m.Balance(ctx, "a", "SRD")
	assert.True(t, bal.Equal(amt("100")), "failed burn leaves balance intact")
	supply, _ := m.TotalIssuance(ctx, "SRD")
	assert.True(t, supply.Equal(amt("100")))
}

func TestMemory_TransferMovesFunds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Mint(ctx, "USD", "a", amt("100")))

	require.NoError(t, m.Transfer(ctx, "a", "b", "USD", amt("40")))

	aBal, _ := m.Balance(ctx, "a", "USD")
	bBal, _ := m.Balance(ctx, "b", "USD")
	assert.True(t, aBal.Equal(amt("60")))
	assert.True(t, bBal.Equal(amt("40")))

	supply, _ := m.TotalIssuance(ctx, "USD")
	assert.True(t, supply.Equal(amt("100")), "transfers never change issuance")
}

func TestMemory_TransferRefusesOverdraft(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Mint(ctx, "USD", "a", amt("10")))

	err := m.Transfer(ctx, "a", "b", "USD", amt("11"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	bBal, _ := m.Balance(ctx, "b", "USD")
	assert.True(t, bBal.IsZero())
}

func TestMemory_RejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	assert.ErrorIs(t, m.Mint(ctx, "SRD", "a", decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, m.Burn(ctx, "SRD", "a", amt("-1")), ErrInvalidAmount)
	assert.ErrorIs(t, m.Transfer(ctx, "a", "b", "SRD", decimal.Zero), ErrInvalidAmount)
}

func TestMemory_SelfTransferIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Mint(ctx, "USD", "a", amt("10")))

	require.NoError(t, m.Transfer(ctx, "a", "a", "USD", amt("5")))

	bal, _ := m.Balance(ctx, "a", "USD")
	assert.True(t, bal.Equal(amt("10")))
}

func TestMemory_FailNextIsOneShot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	injected := errors.New("boom")
	m.FailNext(func(op string, currency model.Currency) error {
		if op == "mint" {
			return injected
		}
		return nil
	})

	require.ErrorIs(t, m.Mint(ctx, "SRD", "a", amt("1")), injected)
	require.NoError(t, m.Mint(ctx, "SRD", "a", amt("1")), "injector clears after firing")
}
