package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/model"
)

type balanceKey struct {
	account  string
	currency model.Currency
}

// Memory is an in-process ledger with overdraft protection. It backs the
// default single-node wiring and the test suites; deployments with an
// external balance book plug their own Ledger implementation instead.
type Memory struct {
	mu       sync.Mutex
	balances map[balanceKey]decimal.Decimal
	issuance map[model.Currency]decimal.Decimal

	// failNext, when set, makes the next matching mutation fail. Used to
	// exercise the engine's compensation path.
	failNext func(op string, currency model.Currency) error
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[balanceKey]decimal.Decimal),
		issuance: make(map[model.Currency]decimal.Decimal),
	}
}

// FailNext installs a one-shot fault injector for tests.
func (m *Memory) FailNext(fn func(op string, currency model.Currency) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = fn
}

func (m *Memory) checkFault(op string, currency model.Currency) error {
	if m.failNext == nil {
		return nil
	}
	fn := m.failNext
	if err := fn(op, currency); err != nil {
		m.failNext = nil
		return err
	}
	return nil
}

func (m *Memory) Mint(ctx context.Context, currency model.Currency, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("mint", currency); err != nil {
		return err
	}
	cur := currency.Normalized()
	key := balanceKey{account: account, currency: cur}
	m.balances[key] = m.balances[key].Add(amount)
	m.issuance[cur] = m.issuance[cur].Add(amount)
	return nil
}

func (m *Memory) Burn(ctx context.Context, currency model.Currency, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("burn", currency); err != nil {
		return err
	}
	cur := currency.Normalized()
	key := balanceKey{account: account, currency: cur}
	if m.balances[key].LessThan(amount) {
		return ErrInsufficientFunds
	}
	m.balances[key] = m.balances[key].Sub(amount)
	m.issuance[cur] = m.issuance[cur].Sub(amount)
	return nil
}

func (m *Memory) Transfer(ctx context.Context, from, to string, currency model.Currency, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if from == to {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("transfer", currency); err != nil {
		return err
	}
	cur := currency.Normalized()
	fromKey := balanceKey{account: from, currency: cur}
	if m.balances[fromKey].LessThan(amount) {
		return ErrInsufficientFunds
	}
	toKey := balanceKey{account: to, currency: cur}
	m.balances[fromKey] = m.balances[fromKey].Sub(amount)
	m.balances[toKey] = m.balances[toKey].Add(amount)
	return nil
}

func (m *Memory) Balance(ctx context.Context, account string, currency model.Currency) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{account: account, currency: currency.Normalized()}], nil
}

func (m *Memory) TotalIssuance(ctx context.Context, currency model.Currency) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issuance[currency.Normalized()], nil
}
