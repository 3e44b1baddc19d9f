// Package cart holds a client's basket between visits.
//
// A Cart is owned by one session but validator responses come back on other
// goroutines, so all state sits behind a mutex and every mutation bumps a
// version counter. Revalidation results tagged with an older version are dropped.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
	"github.com/shopspring/decimal"
)

var (
	ErrRevalidationPending = errors.New("cart has changes that have not been revalidated")
	ErrEmpty               = errors.New("cart is empty")
)

const DefaultTTL = 7 * 24 * time.Hour

type Validator interface {
	Validate(ctx context.Context, lines []pricing.LineRequest) (pricing.Result, error)
}

type Line struct {
	Product    pricing.Product
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
	Options    map[string]string
}

type Options struct {
	TaxRate   decimal.Decimal
	TTL       time.Duration
	Validator Validator
	Store     SnapshotStore
	Clock     func() time.Time
	Logger    *slog.Logger
}

type Cart struct {
	mu        sync.Mutex
	owner     string
	lines     []Line
	version   uint64
	validated uint64

	taxRate   decimal.Decimal
	ttl       time.Duration
	validator Validator
	store     SnapshotStore
	now       func() time.Time
	log       *slog.Logger

	subs    map[int]func(Event)
	nextSub int
}

func New(owner string, opts Options) *Cart {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cart{
		owner:     owner,
		taxRate:   opts.TaxRate,
		ttl:       opts.TTL,
		validator: opts.Validator,
		store:     opts.Store,
		now:       opts.Clock,
		log:       opts.Logger.With("cart", owner),
		subs:      map[int]func(Event){},
	}
}

type AddResult struct {
	Quantity int
	Clamped  bool
}

// AddItem merges into an existing line for the same product. A merged quantity
// above the maximum is clamped; a fresh line outside bounds is rejected.
func (c *Cart) AddItem(p pricing.Product, qty int, options map[string]string) (AddResult, error) {
	if qty <= 0 {
		return AddResult{}, apperr.Validation("quantity", "must be positive")
	}
	if !p.Active {
		return AddResult{}, apperr.Validation("product", fmt.Sprintf("%s is not available", p.ID))
	}

	c.mu.Lock()
	var res AddResult
	if i := c.indexOf(p.ID); i >= 0 {
		want := c.lines[i].Quantity + qty
		got := p.Clamp(want)
		res = AddResult{Quantity: got, Clamped: got != want}
		c.lines[i] = newLine(p, got, mergeOptions(c.lines[i].Options, options))
	} else {
		if !p.InBounds(qty) {
			c.mu.Unlock()
			return AddResult{}, apperr.Validation("quantity", fmt.Sprintf("%d outside allowed range for %s", qty, p.ID))
		}
		res = AddResult{Quantity: qty}
		c.lines = append(c.lines, newLine(p, qty, options))
	}
	ev := c.touchLocked()
	c.mu.Unlock()

	c.emit(ev)
	return res, nil
}

// UpdateQuantity sets an absolute quantity. qty <= 0 removes the line.
func (c *Cart) UpdateQuantity(productID string, qty int) error {
	if qty <= 0 {
		c.RemoveItem(productID)
		return nil
	}
	c.mu.Lock()
	i := c.indexOf(productID)
	if i < 0 {
		c.mu.Unlock()
		return apperr.ErrNotFound
	}
	p := c.lines[i].Product
	if !p.InBounds(qty) {
		c.mu.Unlock()
		return apperr.Validation("quantity", fmt.Sprintf("%d outside allowed range for %s", qty, productID))
	}
	c.lines[i] = newLine(p, qty, c.lines[i].Options)
	ev := c.touchLocked()
	c.mu.Unlock()

	c.emit(ev)
	return nil
}

func (c *Cart) RemoveItem(productID string) bool {
	c.mu.Lock()
	i := c.indexOf(productID)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	ev := c.touchLocked()
	c.mu.Unlock()

	c.emit(ev)
	return true
}

func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	ev := c.touchLocked()
	ev.Kind = EventCleared
	c.mu.Unlock()
	c.emit(ev)
}

func (c *Cart) Owner() string { return c.owner }

func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Stale is true while a mutation has not been confirmed by a revalidation.
func (c *Cart) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validated != c.version
}

func (c *Cart) Subtotal() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subtotalLocked()
}

func (c *Cart) Tax() decimal.Decimal {
	return pricing.Tax(c.Subtotal(), c.taxRate)
}

func (c *Cart) Total() decimal.Decimal {
	sub := c.Subtotal()
	return sub.Add(pricing.Tax(sub, c.taxRate))
}

// CheckoutLines hands the lines to order creation. It refuses while the cart is stale.
func (c *Cart) CheckoutLines() ([]pricing.LineRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == 0 {
		return nil, ErrEmpty
	}
	if c.validated != c.version {
		return nil, ErrRevalidationPending
	}
	return c.requestsLocked(), nil
}

func (c *Cart) subtotalLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(l.TotalPrice)
	}
	return sum
}

func (c *Cart) requestsLocked() []pricing.LineRequest {
	out := make([]pricing.LineRequest, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, pricing.LineRequest{
			ProductID:   l.Product.ID,
			Quantity:    l.Quantity,
			ProductType: l.Product.Type,
			Options:     l.Options,
		})
	}
	return out
}

func (c *Cart) indexOf(productID string) int {
	for i, l := range c.lines {
		if l.Product.ID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) touchLocked() Event {
	c.version++
	return Event{Kind: EventChanged, Version: c.version}
}

func newLine(p pricing.Product, qty int, options map[string]string) Line {
	q := pricing.Price(p, qty)
	return Line{Product: p, Quantity: qty, UnitPrice: q.UnitPrice, TotalPrice: q.TotalPrice, Options: options}
}

func mergeOptions(old, add map[string]string) map[string]string {
	if len(add) == 0 {
		return old
	}
	out := make(map[string]string, len(old)+len(add))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}
