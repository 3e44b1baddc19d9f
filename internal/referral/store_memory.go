package referral

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
)

type MemoryStore struct {
	mu      sync.Mutex
	codes   map[string]string // code -> owner
	byOrder map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: map[string]string{}, byOrder: map[string]Record{}}
}

func (s *MemoryStore) SaveCode(_ context.Context, code, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; ok {
		return ErrCodeTaken
	}
	for _, owner := range s.codes {
		if owner == ownerID {
			return ErrCodeTaken
		}
	}
	s.codes[code] = ownerID
	return nil
}

func (s *MemoryStore) ResolveCode(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.codes[code]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return owner, nil
}

func (s *MemoryStore) CodeOf(_ context.Context, ownerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, owner := range s.codes {
		if owner == ownerID {
			return code, nil
		}
	}
	return "", apperr.ErrNotFound
}

func (s *MemoryStore) GetByOrder(_ context.Context, orderID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byOrder[orderID]
	if !ok {
		return Record{}, apperr.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Insert(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byOrder[rec.OrderID]; ok {
		return false, nil
	}
	rec.UpdatedAt = rec.CreatedAt
	s.byOrder[rec.OrderID] = rec
	return true, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, orderID string, st Status) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byOrder[orderID]
	if !ok {
		return Record{}, false, apperr.ErrNotFound
	}
	if rec.Status == st {
		return rec, false, nil
	}
	rec.Status = st
	rec.UpdatedAt = time.Now().UTC()
	s.byOrder[orderID] = rec
	return rec, true, nil
}

func (s *MemoryStore) MarkCredited(_ context.Context, orderID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byOrder[orderID]
	if !ok || rec.Status != StatusCompleted || rec.CreditedAt != nil {
		return false, nil
	}
	rec.CreditedAt = &at
	s.byOrder[orderID] = rec
	return true, nil
}

func (s *MemoryStore) ClearCredited(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byOrder[orderID]; ok {
		rec.CreditedAt = nil
		s.byOrder[orderID] = rec
	}
	return nil
}

func (s *MemoryStore) ListByReferrer(_ context.Context, referrerID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.byOrder {
		if rec.ReferrerID == referrerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
