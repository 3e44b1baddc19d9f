package referral

import (
	"context"
	"errors"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrCodeTaken = errors.New("referral code already taken")

type Store interface {
	SaveCode(ctx context.Context, code, ownerID string) error
	ResolveCode(ctx context.Context, code string) (string, error)
	CodeOf(ctx context.Context, ownerID string) (string, error)

	GetByOrder(ctx context.Context, orderID string) (Record, error)
	// Insert is a no-op returning false when the order already has a record.
	Insert(ctx context.Context, rec Record) (bool, error)
	// SetStatus returns the record after the update; changed is false when it
	// already had that status.
	SetStatus(ctx context.Context, orderID string, s Status) (rec Record, changed bool, err error)
	// MarkCredited claims the commission payout. Only one caller ever gets true.
	MarkCredited(ctx context.Context, orderID string, at time.Time) (bool, error)
	ClearCredited(ctx context.Context, orderID string) error
	ListByReferrer(ctx context.Context, referrerID string) ([]Record, error)
}

type PGStore struct{ DB *pgxpool.Pool }

const recordColumns = `id, referrer_id, code, order_id, customer_id, order_type,
       commission, status, credited_at, created_at, updated_at`

func (s *PGStore) SaveCode(ctx context.Context, code, ownerID string) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO referral_codes(code, owner_id) VALUES ($1, $2)`, code, ownerID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrCodeTaken
	}
	return apperr.Persistence("save referral code", err)
}

func (s *PGStore) ResolveCode(ctx context.Context, code string) (string, error) {
	var owner string
	err := s.DB.QueryRow(ctx, `SELECT owner_id FROM referral_codes WHERE code=$1`, code).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	return owner, apperr.Persistence("resolve referral code", err)
}

func (s *PGStore) CodeOf(ctx context.Context, ownerID string) (string, error) {
	var code string
	err := s.DB.QueryRow(ctx, `SELECT code FROM referral_codes WHERE owner_id=$1`, ownerID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	return code, apperr.Persistence("get referral code", err)
}

func (s *PGStore) GetByOrder(ctx context.Context, orderID string) (Record, error) {
	rec, err := scanRecord(s.DB.QueryRow(ctx, `SELECT `+recordColumns+` FROM referrals WHERE order_id=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, apperr.ErrNotFound
	}
	return rec, apperr.Persistence("get referral", err)
}

func (s *PGStore) Insert(ctx context.Context, rec Record) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO referrals(id, referrer_id, code, order_id, customer_id, order_type,
		                      commission, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		ON CONFLICT (order_id) DO NOTHING`,
		rec.ID, rec.ReferrerID, rec.Code, rec.OrderID, rec.CustomerID, string(rec.OrderType),
		rec.Commission, string(rec.Status), rec.CreatedAt)
	if err != nil {
		return false, apperr.Persistence("insert referral", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PGStore) SetStatus(ctx context.Context, orderID string, st Status) (Record, bool, error) {
	rec, err := scanRecord(s.DB.QueryRow(ctx, `
		UPDATE referrals SET status=$2, updated_at=now()
		 WHERE order_id=$1 AND status <> $2
		RETURNING `+recordColumns, orderID, string(st)))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, apperr.Persistence("update referral status", err)
	}
	rec, err = s.GetByOrder(ctx, orderID)
	return rec, false, err
}

func (s *PGStore) MarkCredited(ctx context.Context, orderID string, at time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE referrals SET credited_at=$2
		 WHERE order_id=$1 AND status='completed' AND credited_at IS NULL`, orderID, at)
	if err != nil {
		return false, apperr.Persistence("mark referral credited", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PGStore) ClearCredited(ctx context.Context, orderID string) error {
	_, err := s.DB.Exec(ctx, `UPDATE referrals SET credited_at=NULL WHERE order_id=$1`, orderID)
	return apperr.Persistence("clear referral credit", err)
}

func (s *PGStore) ListByReferrer(ctx context.Context, referrerID string) ([]Record, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+recordColumns+` FROM referrals
		WHERE referrer_id=$1 ORDER BY created_at DESC`, referrerID)
	if err != nil {
		return nil, apperr.Persistence("list referrals", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.Persistence("scan referral", err)
		}
		out = append(out, rec)
	}
	return out, apperr.Persistence("list referrals", rows.Err())
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec               Record
		orderType, status string
	)
	err := row.Scan(&rec.ID, &rec.ReferrerID, &rec.Code, &rec.OrderID, &rec.CustomerID, &orderType,
		&rec.Commission, &status, &rec.CreditedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.OrderType = orders.OrderType(orderType)
	rec.Status = Status(status)
	return rec, nil
}
