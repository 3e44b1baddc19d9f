// Package credit keeps per-user store-credit balances.
//
// Every Debit is a single conditional update in the backing store, so two
// concurrent debits can never take a balance below zero.
package credit

import (
	"context"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/shopspring/decimal"
)

type Ledger interface {
	// GetBalance returns zero for users without an account.
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	// Debit returns *apperr.InsufficientCreditsError and changes nothing on shortfall.
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

func checkArgs(userID string, amount decimal.Decimal) error {
	if userID == "" {
		return apperr.Validation("user_id", "required")
	}
	if !amount.IsPositive() {
		return apperr.Validation("amount", "must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return apperr.Validation("amount", "at most two decimal places")
	}
	return nil
}
