package cart

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
func intp(n int) *int               { return &n }

var (
	boost = pricing.Product{ID: "boost", Name: "Level boost", Type: pricing.ProductService,
		BasePrice: dec("10.00"), MinQuantity: 1, MaxQuantity: intp(5), Active: true}
	samples = pricing.Product{ID: "samples", Name: "Rare samples", Type: pricing.ProductCustomItem,
		BasePrice: dec("1.00"), MinQuantity: 10, Active: true}
	retired = pricing.Product{ID: "retired", Name: "Old bundle", Type: pricing.ProductBundle,
		BasePrice: dec("30"), Active: false}
)

func newCart(t *testing.T, opts Options) *Cart {
	t.Helper()
	if opts.Validator == nil {
		opts.Validator = pricing.NewValidator(pricing.NewMemoryCatalog(boost, samples), nil)
	}
	if opts.TaxRate.IsZero() {
		opts.TaxRate = dec("0.08")
	}
	return New("user-1", opts)
}

func TestAddItemMergesAndClamps(t *testing.T) {
	c := newCart(t, Options{})

	res, err := c.AddItem(boost, 3, nil)
	require.NoError(t, err)
	assert.False(t, res.Clamped)

	res, err = c.AddItem(boost, 4, map[string]string{"platform": "pc"})
	require.NoError(t, err)
	assert.True(t, res.Clamped)
	assert.Equal(t, 5, res.Quantity)

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Quantity)
	assert.Equal(t, "pc", lines[0].Options["platform"])
	assert.True(t, lines[0].TotalPrice.Equal(dec("50.00")))
}

func TestAddItemRejectsOutOfBounds(t *testing.T) {
	c := newCart(t, Options{})
	var ve *apperr.ValidationError

	_, err := c.AddItem(boost, 6, nil)
	assert.True(t, errors.As(err, &ve))
	_, err = c.AddItem(samples, 3, nil)
	assert.True(t, errors.As(err, &ve))
	_, err = c.AddItem(boost, 0, nil)
	assert.True(t, errors.As(err, &ve))
	_, err = c.AddItem(retired, 1, nil)
	assert.True(t, errors.As(err, &ve))

	assert.Empty(t, c.Lines())
	assert.Zero(t, c.Version(), "rejected adds must not bump the version")
}

func TestUpdateQuantity(t *testing.T) {
	c := newCart(t, Options{})
	_, err := c.AddItem(samples, 10, nil)
	require.NoError(t, err)

	var ve *apperr.ValidationError
	assert.True(t, errors.As(c.UpdateQuantity("samples", 5), &ve))
	assert.Equal(t, 10, c.Lines()[0].Quantity)

	require.NoError(t, c.UpdateQuantity("samples", 25))
	assert.True(t, c.Subtotal().Equal(dec("25.00")))

	assert.ErrorIs(t, c.UpdateQuantity("nope", 1), apperr.ErrNotFound)

	require.NoError(t, c.UpdateQuantity("samples", 0))
	assert.Empty(t, c.Lines())
}

func TestQuantityAlwaysInBounds(t *testing.T) {
	c := newCart(t, Options{})
	rng := rand.New(rand.NewSource(7))
	products := []pricing.Product{boost, samples}

	for i := 0; i < 500; i++ {
		p := products[rng.Intn(len(products))]
		switch rng.Intn(3) {
		case 0:
			_, _ = c.AddItem(p, rng.Intn(30)-5, nil)
		case 1:
			_ = c.UpdateQuantity(p.ID, rng.Intn(30)-5)
		case 2:
			c.RemoveItem(p.ID)
		}
		sum := decimal.Zero
		for _, l := range c.Lines() {
			assert.True(t, l.Product.InBounds(l.Quantity), "step %d: %s qty %d", i, l.Product.ID, l.Quantity)
			assert.True(t, l.TotalPrice.Equal(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))))
			sum = sum.Add(l.TotalPrice)
		}
		assert.True(t, c.Subtotal().Equal(sum))
	}
}

func TestTotals(t *testing.T) {
	c := newCart(t, Options{})
	_, err := c.AddItem(boost, 2, nil)
	require.NoError(t, err)
	_, err = c.AddItem(samples, 12, nil)
	require.NoError(t, err)

	assert.True(t, c.Subtotal().Equal(dec("32.00")))
	assert.True(t, c.Tax().Equal(dec("2.56")))
	assert.True(t, c.Total().Equal(dec("34.56")))
}

type gatedValidator struct {
	inner   Validator
	started chan struct{}
	release chan struct{}
}

func (g *gatedValidator) Validate(ctx context.Context, lines []pricing.LineRequest) (pricing.Result, error) {
	g.started <- struct{}{}
	<-g.release
	return g.inner.Validate(ctx, lines)
}

func TestStaleRevalidationIsDiscarded(t *testing.T) {
	v := &gatedValidator{
		inner:   pricing.NewValidator(pricing.NewMemoryCatalog(boost, samples), nil),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := newCart(t, Options{Validator: v})
	_, err := c.AddItem(boost, 1, nil)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		applied bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		applied, _ = c.Revalidate(context.Background())
	}()

	// mutate while the first revalidation is in flight
	<-v.started
	require.NoError(t, c.UpdateQuantity("boost", 2))
	close(v.release)
	wg.Wait()

	assert.False(t, applied)
	assert.True(t, c.Stale())
	_, err = c.CheckoutLines()
	assert.ErrorIs(t, err, ErrRevalidationPending)

	ok, err := c.Revalidate(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	lines, err := c.CheckoutLines()
	require.NoError(t, err)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestApplyRevalidationByTicket(t *testing.T) {
	cat := pricing.NewMemoryCatalog(boost, samples)
	val := pricing.NewValidator(cat, nil)
	c := newCart(t, Options{Validator: val})
	_, err := c.AddItem(boost, 1, nil)
	require.NoError(t, err)

	old := c.BeginRevalidation()
	_, err = c.AddItem(samples, 10, nil)
	require.NoError(t, err)
	fresh := c.BeginRevalidation()

	res, err := val.Validate(context.Background(), old.Lines)
	require.NoError(t, err)
	assert.False(t, c.ApplyRevalidation(old, res))
	assert.Len(t, c.Lines(), 2, "discarded result must not touch lines")

	// the catalog put the boost on sale meanwhile
	onSale := boost
	sale := dec("7.50")
	onSale.SalePrice = &sale
	cat.Put(onSale)

	res, err = val.Validate(context.Background(), fresh.Lines)
	require.NoError(t, err)
	assert.True(t, c.ApplyRevalidation(fresh, res))
	assert.False(t, c.Stale())
	assert.True(t, c.Subtotal().Equal(dec("17.50")))
}

func TestCheckoutRequiresRevalidation(t *testing.T) {
	c := newCart(t, Options{})
	_, err := c.CheckoutLines()
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = c.AddItem(boost, 2, nil)
	require.NoError(t, err)
	_, err = c.CheckoutLines()
	assert.ErrorIs(t, err, ErrRevalidationPending)

	_, err = c.Revalidate(context.Background())
	require.NoError(t, err)
	lines, err := c.CheckoutLines()
	require.NoError(t, err)
	assert.Equal(t, []pricing.LineRequest{{ProductID: "boost", Quantity: 2, ProductType: pricing.ProductService}}, lines)
}

func TestRevalidationDropsInvalidLines(t *testing.T) {
	cat := pricing.NewMemoryCatalog(boost, samples)
	c := newCart(t, Options{Validator: pricing.NewValidator(cat, nil)})
	_, err := c.AddItem(boost, 1, nil)
	require.NoError(t, err)
	_, err = c.AddItem(samples, 10, nil)
	require.NoError(t, err)

	var got []Event
	unsubscribe := c.Subscribe(func(ev Event) { got = append(got, ev) })

	gone := samples
	gone.Active = false
	cat.Put(gone)

	_, err = c.Revalidate(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Lines(), 1)
	require.Len(t, got, 2)
	assert.Equal(t, EventRevalidated, got[0].Kind)
	assert.Equal(t, EventLinesDropped, got[1].Kind)
	assert.Equal(t, pricing.ReasonInactive, got[1].Dropped[0].Reason)

	unsubscribe()
	c.RemoveItem("boost")
	assert.Len(t, got, 2)
}

func TestRestoreExpiredSnapshot(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore()

	c := newCart(t, Options{Store: store, Clock: clock})
	_, err := c.AddItem(boost, 2, nil)
	require.NoError(t, err)
	require.NoError(t, c.Save(context.Background()))

	now = now.Add(8 * 24 * time.Hour)
	restored := newCart(t, Options{Store: store, Clock: clock})
	res, err := restored.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Expired)
	assert.Empty(t, restored.Lines())

	_, found, _ := store.LoadSnapshot(context.Background(), "user-1")
	assert.False(t, found)
}

func TestRestoreRevalidatesLines(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore()
	cat := pricing.NewMemoryCatalog(boost, samples)
	val := pricing.NewValidator(cat, nil)

	c := newCart(t, Options{Store: store, Clock: clock, Validator: val})
	_, err := c.AddItem(boost, 4, nil)
	require.NoError(t, err)
	_, err = c.AddItem(samples, 10, nil)
	require.NoError(t, err)
	require.NoError(t, c.Save(context.Background()))

	// catalog tightened the boost limit while the user was away
	tighter := boost
	tighter.MaxQuantity = intp(3)
	cat.Put(tighter)

	now = now.Add(6 * 24 * time.Hour)
	restored := newCart(t, Options{Store: store, Clock: clock, Validator: val})
	res, err := restored.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Expired)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, restored.Lines(), 1)
	assert.Equal(t, "samples", restored.Lines()[0].Product.ID)
	assert.False(t, restored.Stale())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := &RedisStore{RDB: rdb}

	c := newCart(t, Options{Store: store})
	_, err := c.AddItem(boost, 2, map[string]string{"region": "eu"})
	require.NoError(t, err)
	require.NoError(t, c.Save(context.Background()))
	assert.Equal(t, DefaultTTL, mr.TTL("cart:user-1"))

	restored := newCart(t, Options{Store: store})
	res, err := restored.Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Dropped)
	require.Len(t, restored.Lines(), 1)
	assert.Equal(t, "eu", restored.Lines()[0].Options["region"])

	require.NoError(t, store.DeleteSnapshot(context.Background(), "user-1"))
	_, found, err := store.LoadSnapshot(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, found)
}
