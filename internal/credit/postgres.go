package credit

import (
	"context"
	"errors"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PGLedger struct{ DB *pgxpool.Pool }

func (l *PGLedger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := l.DB.QueryRow(ctx, `SELECT balance FROM credit_accounts WHERE user_id=$1`, userID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, apperr.Persistence("get balance", err)
	}
	return bal, nil
}

func (l *PGLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return DebitIn(ctx, l.DB, userID, amount)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DebitIn runs the conditional debit on q, so callers can take credits inside
// their own transaction.
func DebitIn(ctx context.Context, q Querier, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkArgs(userID, amount); err != nil {
		return decimal.Zero, err
	}
	var bal decimal.Decimal
	err := q.QueryRow(ctx, `
		UPDATE credit_accounts
		   SET balance = balance - $2, updated_at = now()
		 WHERE user_id = $1 AND balance >= $2
		RETURNING balance`, userID, amount).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		avail := decimal.Zero
		err = q.QueryRow(ctx, `SELECT balance FROM credit_accounts WHERE user_id=$1`, userID).Scan(&avail)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, apperr.Persistence("get balance", err)
		}
		return decimal.Zero, &apperr.InsufficientCreditsError{UserID: userID, Requested: amount, Available: avail}
	}
	if err != nil {
		return decimal.Zero, apperr.Persistence("debit credits", err)
	}
	return bal, nil
}

func (l *PGLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkArgs(userID, amount); err != nil {
		return decimal.Zero, err
	}
	var bal decimal.Decimal
	err := l.DB.QueryRow(ctx, `
		INSERT INTO credit_accounts(user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		   SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance`, userID, amount).Scan(&bal)
	if err != nil {
		return decimal.Zero, apperr.Persistence("credit credits", err)
	}
	return bal, nil
}
