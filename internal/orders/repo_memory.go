package orders

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/credit"
)

// MemoryRepo is an in-process Repository with the same version semantics as Repo.
type MemoryRepo struct {
	// Ledger backs InsertDebiting.
	Ledger *credit.MemoryLedger

	mu    sync.Mutex
	byID  map[string]Order
	byExt map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Order{}, byExt: map[string]string{}}
}

func (r *MemoryRepo) Insert(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.takenLocked(o.ExternalID) {
		return ErrAlreadyExists
	}
	r.insertLocked(o)
	return nil
}

// InsertDebiting debits Ledger and stores o under one lock.
func (r *MemoryRepo) InsertDebiting(ctx context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.takenLocked(o.ExternalID) {
		return ErrAlreadyExists
	}
	if o.CreditsUsed.IsPositive() {
		if r.Ledger == nil {
			return errors.New("orders: memory repo has no ledger")
		}
		if _, err := r.Ledger.Debit(ctx, o.CustomerID, o.CreditsUsed); err != nil {
			return err
		}
	}
	r.insertLocked(o)
	return nil
}

func (r *MemoryRepo) takenLocked(externalID string) bool {
	if externalID == "" {
		return false
	}
	_, ok := r.byExt[externalID]
	return ok
}

func (r *MemoryRepo) insertLocked(o Order) {
	if o.ExternalID != "" {
		r.byExt[o.ExternalID] = o.ID
	}
	r.byID[o.ID] = clone(o)
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok || o.DeletedAt != nil {
		return Order{}, apperr.ErrNotFound
	}
	return clone(o), nil
}

func (r *MemoryRepo) GetByExternalID(ctx context.Context, externalID string) (Order, error) {
	r.mu.Lock()
	id, ok := r.byExt[externalID]
	r.mu.Unlock()
	if !ok {
		return Order{}, apperr.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepo) ListByCustomer(_ context.Context, customerID string, limit int) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.byID {
		if o.CustomerID == customerID && o.DeletedAt == nil {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Update(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[o.ID]
	if !ok || cur.DeletedAt != nil {
		return apperr.ErrNotFound
	}
	if cur.Version != o.Version {
		return &apperr.ConcurrencyConflictError{Entity: "order", ID: o.ID, ExpectedVersion: o.Version}
	}
	o.Version++
	r.byID[o.ID] = clone(*o)
	return nil
}

func clone(o Order) Order {
	o.Items = append([]Item(nil), o.Items...)
	o.History = append([]HistoryEntry(nil), o.History...)
	if o.Metadata != nil {
		m := make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			m[k] = v
		}
		o.Metadata = m
	}
	return o
}
