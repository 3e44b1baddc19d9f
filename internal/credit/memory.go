package credit

import (
	"context"
	"sync"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/shopspring/decimal"
)

type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: map[string]decimal.Decimal{}}
}

func (l *MemoryLedger) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *MemoryLedger) Debit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkArgs(userID, amount); err != nil {
		return decimal.Zero, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.balances[userID]
	if cur.LessThan(amount) {
		return decimal.Zero, &apperr.InsufficientCreditsError{UserID: userID, Requested: amount, Available: cur}
	}
	l.balances[userID] = cur.Sub(amount)
	return l.balances[userID], nil
}

func (l *MemoryLedger) Credit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkArgs(userID, amount); err != nil {
		return decimal.Zero, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = l.balances[userID].Add(amount)
	return l.balances[userID], nil
}
