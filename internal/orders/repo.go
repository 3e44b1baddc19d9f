package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/credit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAlreadyExists = errors.New("order already exists")

// Repository stores orders. Soft-deleted rows are invisible to every read.
type Repository interface {
	// Insert returns ErrAlreadyExists when the external id is taken.
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetByExternalID(ctx context.Context, externalID string) (Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Update writes every mutable field in one statement guarded by o.Version
	// and bumps o.Version on success.
	Update(ctx context.Context, o *Order) error
}

type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, external_id, customer_id, order_type, items,
       subtotal, tax, discount, credits_used, total_amount,
       status, payment_status, payment_ref, fulfillment_status, progress,
       status_history, notes, admin_notes, referral_code, metadata,
       version, created_at, updated_at, completed_at, deleted_at`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *Repo) Insert(ctx context.Context, o Order) error {
	return insertOrder(ctx, r.DB, o)
}

// InsertDebiting takes o.CreditsUsed from the customer's credit account and
// inserts o in one transaction. Either both land or neither does.
func (r *Repo) InsertDebiting(ctx context.Context, o Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Persistence("begin order tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if o.CreditsUsed.IsPositive() {
		if _, err := credit.DebitIn(ctx, tx, o.CustomerID, o.CreditsUsed); err != nil {
			return err
		}
	}
	if err := insertOrder(ctx, tx, o); err != nil {
		return err
	}
	return apperr.Persistence("commit order", tx.Commit(ctx))
}

func insertOrder(ctx context.Context, db execer, o Order) error {
	items, history, meta, err := encodeJSONColumns(o)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, order_type, items,
		                   subtotal, tax, discount, credits_used, total_amount,
		                   status, payment_status, payment_ref, fulfillment_status, progress,
		                   status_history, notes, admin_notes, referral_code, metadata,
		                   version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$22)`,
		o.ID, nullIfEmpty(o.ExternalID), o.CustomerID, string(o.Type), items,
		o.Subtotal, o.Tax, o.Discount, o.CreditsUsed, o.Total,
		string(o.Status), string(o.PaymentStatus), o.PaymentRef, string(o.FulfillmentStatus), o.Progress,
		history, o.Notes, o.AdminNotes, nullIfEmpty(o.ReferralCode), meta,
		o.Version, o.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return apperr.Persistence("insert order", err)
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 AND deleted_at IS NULL`, id)
}

func (r *Repo) GetByExternalID(ctx context.Context, externalID string) (Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1 AND deleted_at IS NULL`, externalID)
}

func (r *Repo) getOne(ctx context.Context, q string, arg string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, apperr.ErrNotFound
	}
	if err != nil {
		return Order{}, apperr.Persistence("get order", err)
	}
	return o, nil
}

func (r *Repo) ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE customer_id=$1 AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Persistence("scan order", err)
		}
		out = append(out, o)
	}
	return out, apperr.Persistence("list orders", rows.Err())
}

func (r *Repo) Update(ctx context.Context, o *Order) error {
	_, history, _, err := encodeJSONColumns(*o)
	if err != nil {
		return err
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		   SET status=$3, payment_status=$4, payment_ref=$5, fulfillment_status=$6, progress=$7,
		       status_history=$8, notes=$9, admin_notes=$10,
		       completed_at=$11, deleted_at=$12, updated_at=$13,
		       version = version + 1
		 WHERE id=$1 AND version=$2 AND deleted_at IS NULL`,
		o.ID, o.Version,
		string(o.Status), string(o.PaymentStatus), o.PaymentRef, string(o.FulfillmentStatus), o.Progress,
		history, o.Notes, o.AdminNotes,
		o.CompletedAt, o.DeletedAt, o.UpdatedAt,
	)
	if err != nil {
		return apperr.Persistence("update order", err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1 AND deleted_at IS NULL)`, o.ID).Scan(&exists); err != nil {
			return apperr.Persistence("update order", err)
		}
		if !exists {
			return apperr.ErrNotFound
		}
		return &apperr.ConcurrencyConflictError{Entity: "order", ID: o.ID, ExpectedVersion: o.Version}
	}
	o.Version++
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                                       Order
		externalID, referral                    *string
		orderType, status, payment, fulfillment string
		itemsJSON, historyJSON, metaJSON        []byte
	)
	err := row.Scan(&o.ID, &externalID, &o.CustomerID, &orderType, &itemsJSON,
		&o.Subtotal, &o.Tax, &o.Discount, &o.CreditsUsed, &o.Total,
		&status, &payment, &o.PaymentRef, &fulfillment, &o.Progress,
		&historyJSON, &o.Notes, &o.AdminNotes, &referral, &metaJSON,
		&o.Version, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt, &o.DeletedAt)
	if err != nil {
		return Order{}, err
	}
	if externalID != nil {
		o.ExternalID = *externalID
	}
	if referral != nil {
		o.ReferralCode = *referral
	}
	o.Type = OrderType(orderType)
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(payment)
	o.FulfillmentStatus = FulfillmentStatus(fulfillment)
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return Order{}, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &o.History); err != nil {
		return Order{}, fmt.Errorf("decode status history: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &o.Metadata); err != nil {
			return Order{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return o, nil
}

func encodeJSONColumns(o Order) (items, history, meta []byte, err error) {
	if items, err = json.Marshal(o.Items); err != nil {
		return nil, nil, nil, fmt.Errorf("encode items: %w", err)
	}
	if history, err = json.Marshal(o.History); err != nil {
		return nil, nil, nil, fmt.Errorf("encode status history: %w", err)
	}
	if meta, err = json.Marshal(o.Metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return items, history, meta, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
