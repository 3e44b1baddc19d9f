package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
func intp(n int) *int { return &n }

func TestPriceUsesSalePrice(t *testing.T) {
	p := Product{ID: "p1", Type: ProductService, BasePrice: dec("10.00"), SalePrice: decp("8.00"), Active: true}
	q := Price(p, 3)
	assert.True(t, q.UnitPrice.Equal(dec("8.00")))
	assert.True(t, q.TotalPrice.Equal(dec("24.00")), "got %s", q.TotalPrice)
}

func TestPriceCustomItem(t *testing.T) {
	p := Product{ID: "c1", Type: ProductCustomItem, BasePrice: dec("50"), PricePerUnit: decp("2.50"), Active: true}
	q := Price(p, 4)
	// per-unit only, base price is not added on top
	assert.True(t, q.TotalPrice.Equal(dec("10.00")), "got %s", q.TotalPrice)

	p.PricePerUnit = nil
	p.SalePrice = decp("45")
	assert.True(t, Price(p, 2).TotalPrice.Equal(dec("90")))
}

func TestCheckBounds(t *testing.T) {
	p := Product{ID: "p", BasePrice: dec("1"), MinQuantity: 2, MaxQuantity: intp(5), Active: true}
	for qty, want := range map[int]bool{0: false, 1: false, 2: true, 5: true, 6: false} {
		_, ok := Check(p, qty)
		assert.Equal(t, want, ok, "qty %d", qty)
	}

	unbounded := Product{ID: "u", BasePrice: dec("1"), Active: true}
	_, ok := Check(unbounded, 10_000)
	assert.True(t, ok)
	_, ok = Check(unbounded, 0)
	assert.False(t, ok)

	p.Active = false
	reason, ok := Check(p, 3)
	assert.False(t, ok)
	assert.Equal(t, ReasonInactive, reason)
}

type failingSource struct{}

func (failingSource) GetProduct(context.Context, string) (Product, error) {
	return Product{}, errors.New("db down")
}

func TestValidatorFlagsBadLines(t *testing.T) {
	cat := NewMemoryCatalog(
		Product{ID: "boost", Type: ProductService, BasePrice: dec("10.00"), SalePrice: decp("8.00"), Active: true},
		Product{ID: "old", Type: ProductService, BasePrice: dec("5"), Active: false},
		Product{ID: "medals", Type: ProductCustomItem, BasePrice: dec("1"), PricePerUnit: decp("0.10"), MinQuantity: 100, MaxQuantity: intp(1000), Active: true},
	)
	v := NewValidator(cat, nil)

	res, err := v.Validate(context.Background(), []LineRequest{
		{ProductID: "boost", Quantity: 3, ProductType: ProductBundle},
		{ProductID: "old", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
		{ProductID: "medals", Quantity: 50},
		{ProductID: "medals", Quantity: 250},
	})
	require.NoError(t, err)

	require.Len(t, res.Lines, 2)
	assert.Equal(t, ProductService, res.Lines[0].Type, "canonical type wins")
	assert.True(t, res.Lines[0].TotalPrice.Equal(dec("24.00")))
	assert.True(t, res.Lines[1].TotalPrice.Equal(dec("25.00")))
	assert.True(t, res.Subtotal().Equal(dec("49.00")))

	require.Len(t, res.Invalid, 3)
	assert.Equal(t, ReasonInactive, res.Invalid[0].Reason)
	assert.Equal(t, ReasonNotFound, res.Invalid[1].Reason)
	assert.Equal(t, ReasonQuantity, res.Invalid[2].Reason)
	assert.Equal(t, 3, res.Invalid[2].Index)
}

func TestValidatorSourceError(t *testing.T) {
	_, err := NewValidator(failingSource{}, nil).Validate(context.Background(), []LineRequest{{ProductID: "x", Quantity: 1}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrNotFound)
}

func TestTax(t *testing.T) {
	assert.True(t, Tax(dec("24.00"), dec("0.08")).Equal(dec("1.92")))
	assert.True(t, Tax(dec("0.05"), dec("0.08")).Equal(dec("0")))
}
