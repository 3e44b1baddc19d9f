// Package referral attributes orders to the users whose code the customer
// entered and pays their commission into the credit ledger.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/credit"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{4,32}$`)

type Attributor struct {
	store  Store
	ledger credit.Ledger
	rate   decimal.Decimal
	now    func() time.Time
	log    *slog.Logger
}

func NewAttributor(store Store, ledger credit.Ledger, rate decimal.Decimal, log *slog.Logger) *Attributor {
	if log == nil {
		log = slog.Default()
	}
	return &Attributor{store: store, ledger: ledger, rate: rate, now: time.Now, log: log}
}

// Accrue keeps the referral record for o in step with the order. It is safe to
// call any number of times for the same order: the record is created once and
// the commission is credited once, on the first call that sees it completed.
func (a *Attributor) Accrue(ctx context.Context, o orders.Order) error {
	code := NormalizeCode(o.ReferralCode)
	if code == "" {
		return nil
	}
	bucket := BucketFor(o.Status)

	rec, err := a.store.GetByOrder(ctx, o.ID)
	switch {
	case err == nil:
		rec, err = a.moveTo(ctx, rec, bucket)
	case errors.Is(err, apperr.ErrNotFound):
		if bucket == StatusCancelled {
			return nil
		}
		var ok bool
		rec, ok, err = a.create(ctx, o, code, bucket)
		if err != nil || !ok {
			return err
		}
	}
	if err != nil {
		return err
	}

	if rec.Status == StatusCompleted && rec.CreditedAt == nil {
		return a.settle(ctx, rec)
	}
	return nil
}

func (a *Attributor) create(ctx context.Context, o orders.Order, code string, bucket Status) (Record, bool, error) {
	referrer, err := a.store.ResolveCode(ctx, code)
	if errors.Is(err, apperr.ErrNotFound) {
		a.log.Debug("unknown referral code", "order", o.ID, "code", code)
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if referrer == o.CustomerID {
		a.log.Debug("self referral ignored", "order", o.ID, "customer", o.CustomerID)
		return Record{}, false, nil
	}

	now := a.now().UTC()
	rec := Record{
		ID:         uuid.NewString(),
		ReferrerID: referrer,
		Code:       code,
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		OrderType:  o.Type,
		Commission: o.Total.Mul(a.rate).Round(2),
		Status:     bucket,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := a.store.Insert(ctx, rec)
	if err != nil {
		return Record{}, false, err
	}
	if !created {
		// lost the race to another accrual of the same order
		existing, err := a.store.GetByOrder(ctx, o.ID)
		if err != nil {
			return Record{}, false, err
		}
		rec, err = a.moveTo(ctx, existing, bucket)
		return rec, err == nil, err
	}
	a.log.Info("referral recorded", "order", o.ID, "referrer", referrer, "commission", rec.Commission.StringFixed(2))
	return rec, true, nil
}

func (a *Attributor) moveTo(ctx context.Context, rec Record, bucket Status) (Record, error) {
	if rec.Status == bucket {
		return rec, nil
	}
	updated, changed, err := a.store.SetStatus(ctx, rec.OrderID, bucket)
	if err != nil {
		return Record{}, err
	}
	if changed {
		a.log.Info("referral status changed", "order", rec.OrderID, "from", rec.Status, "to", bucket)
	}
	return updated, nil
}

func (a *Attributor) settle(ctx context.Context, rec Record) error {
	claimed, err := a.store.MarkCredited(ctx, rec.OrderID, a.now().UTC())
	if err != nil || !claimed {
		return err
	}
	if !rec.Commission.IsPositive() {
		return nil
	}
	if _, err := a.ledger.Credit(ctx, rec.ReferrerID, rec.Commission); err != nil {
		if cerr := a.store.ClearCredited(ctx, rec.OrderID); cerr != nil {
			a.log.Error("referral credit claim not released", "order", rec.OrderID, "error", cerr)
		}
		return fmt.Errorf("credit referral commission: %w", err)
	}
	a.log.Info("referral commission credited", "order", rec.OrderID, "referrer", rec.ReferrerID,
		"amount", rec.Commission.StringFixed(2))
	return nil
}

// GetStats merges a referrer's records across order types.
func (a *Attributor) GetStats(ctx context.Context, userID string) (Stats, error) {
	recs, err := a.store.ListByReferrer(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		TotalEarned:     decimal.Zero,
		PendingEarnings: decimal.Zero,
		ByOrderType:     map[orders.OrderType]int{},
	}
	for _, r := range recs {
		st.TotalReferred++
		st.ByOrderType[r.OrderType]++
		switch r.Status {
		case StatusCompleted:
			st.TotalEarned = st.TotalEarned.Add(r.Commission)
		case StatusPending:
			st.PendingEarnings = st.PendingEarnings.Add(r.Commission)
		}
	}
	if st.CreditBalance, err = a.ledger.GetBalance(ctx, userID); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// RegisterCode gives userID a referral code. An empty code asks for a generated one.
func (a *Attributor) RegisterCode(ctx context.Context, userID, code string) (string, error) {
	if userID == "" {
		return "", apperr.Validation("user_id", "required")
	}
	code = NormalizeCode(code)
	if code == "" {
		code = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	if !codePattern.MatchString(code) {
		return "", apperr.Validation("code", "4-32 letters, digits, '-' or '_'")
	}
	if err := a.store.SaveCode(ctx, code, userID); err != nil {
		return "", err
	}
	return code, nil
}

func (a *Attributor) CodeOf(ctx context.Context, userID string) (string, error) {
	return a.store.CodeOf(ctx, userID)
}
