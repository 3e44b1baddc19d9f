package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type SnapshotLine struct {
	ProductID   string              `json:"product_id"`
	ProductType pricing.ProductType `json:"product_type"`
	Quantity    int                 `json:"quantity"`
	Options     map[string]string   `json:"custom_options,omitempty"`
}

type Snapshot struct {
	Owner   string         `json:"owner"`
	Version uint64         `json:"version"`
	SavedAt time.Time      `json:"saved_at"`
	Lines   []SnapshotLine `json:"lines"`
}

// SnapshotStore persists carts between visits. Load reports found=false for no snapshot.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s Snapshot, ttl time.Duration) error
	LoadSnapshot(ctx context.Context, owner string) (Snapshot, bool, error)
	DeleteSnapshot(ctx context.Context, owner string) error
}

type RestoreResult struct {
	Expired bool
	Dropped int
}

// Save writes the current lines. Prices are not stored; Restore re-derives them.
func (c *Cart) Save(ctx context.Context) error {
	if c.store == nil {
		return errors.New("cart: no snapshot store configured")
	}
	c.mu.Lock()
	snap := Snapshot{Owner: c.owner, Version: c.version, SavedAt: c.now().UTC()}
	for _, l := range c.lines {
		snap.Lines = append(snap.Lines, SnapshotLine{
			ProductID:   l.Product.ID,
			ProductType: l.Product.Type,
			Quantity:    l.Quantity,
			Options:     l.Options,
		})
	}
	c.mu.Unlock()
	return c.store.SaveSnapshot(ctx, snap, c.ttl)
}

// Restore replaces the cart with the stored snapshot. A snapshot older than the
// TTL is deleted and the cart comes back empty; otherwise every line is
// revalidated and lines that no longer pass are dropped.
func (c *Cart) Restore(ctx context.Context) (RestoreResult, error) {
	if c.store == nil || c.validator == nil {
		return RestoreResult{}, errors.New("cart: restore needs a store and a validator")
	}
	snap, ok, err := c.store.LoadSnapshot(ctx, c.owner)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("load cart: %w", err)
	}
	if !ok {
		return RestoreResult{}, nil
	}

	if c.now().Sub(snap.SavedAt) > c.ttl {
		if err := c.store.DeleteSnapshot(ctx, c.owner); err != nil {
			c.log.Warn("expired cart delete failed", "error", err)
		}
		c.mu.Lock()
		c.lines = nil
		c.version++
		c.validated = c.version
		ev := Event{Kind: EventExpired, Version: c.version}
		c.mu.Unlock()
		c.emit(ev)
		return RestoreResult{Expired: true}, nil
	}

	reqs := make([]pricing.LineRequest, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		reqs = append(reqs, pricing.LineRequest{ProductID: l.ProductID, Quantity: l.Quantity, ProductType: l.ProductType, Options: l.Options})
	}
	res, err := c.validator.Validate(ctx, reqs)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("revalidate restored cart: %w", err)
	}

	c.mu.Lock()
	c.lines = linesFromResult(res)
	c.version++
	c.validated = c.version
	events := []Event{{Kind: EventRevalidated, Version: c.version}}
	if len(res.Invalid) > 0 {
		events = append(events, Event{Kind: EventLinesDropped, Version: c.version, Dropped: res.Invalid})
	}
	c.mu.Unlock()

	c.emit(events...)
	if len(res.Invalid) > 0 {
		c.log.Info("dropped invalid lines from saved cart", "count", len(res.Invalid))
	}
	return RestoreResult{Dropped: len(res.Invalid)}, nil
}

// RedisStore keeps snapshots as JSON with a key expiry matching the cart TTL.
type RedisStore struct{ RDB *redis.Client }

func snapshotKey(owner string) string { return fmt.Sprintf(redisx.KeyCartSnapshot, owner) }

func (s *RedisStore) SaveSnapshot(ctx context.Context, snap Snapshot, ttl time.Duration) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.RDB.Set(ctx, snapshotKey(snap.Owner), b, ttl).Err()
}

func (s *RedisStore) LoadSnapshot(ctx context.Context, owner string) (Snapshot, bool, error) {
	b, err := s.RDB.Get(ctx, snapshotKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode cart snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *RedisStore) DeleteSnapshot(ctx context.Context, owner string) error {
	return s.RDB.Del(ctx, snapshotKey(owner)).Err()
}

// MemoryStore ignores ttl; expiry is decided by Restore from SavedAt.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{snaps: map[string]Snapshot{}} }

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot, _ time.Duration) error {
	s.mu.Lock()
	s.snaps[snap.Owner] = snap
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, owner string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[owner]
	return snap, ok, nil
}

func (s *MemoryStore) DeleteSnapshot(_ context.Context, owner string) error {
	s.mu.Lock()
	delete(s.snaps, owner)
	s.mu.Unlock()
	return nil
}
