package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductType string

const (
	ProductService    ProductType = "service"
	ProductBundle     ProductType = "bundle"
	ProductCustomItem ProductType = "custom_item"
)

func (t ProductType) Valid() bool {
	switch t {
	case ProductService, ProductBundle, ProductCustomItem:
		return true
	}
	return false
}

// Product is the canonical catalog entry. Nothing the client sends overrides it.
type Product struct {
	ID           string
	Name         string
	Type         ProductType
	BasePrice    decimal.Decimal
	SalePrice    *decimal.Decimal
	PricePerUnit *decimal.Decimal
	MinQuantity  int
	MaxQuantity  *int // nil = unbounded
	Active       bool
	UpdatedAt    time.Time
}

// MinQty treats an unset minimum as 1.
func (p Product) MinQty() int {
	if p.MinQuantity < 1 {
		return 1
	}
	return p.MinQuantity
}

func (p Product) InBounds(qty int) bool {
	if qty < p.MinQty() {
		return false
	}
	return p.MaxQuantity == nil || qty <= *p.MaxQuantity
}

// Clamp pulls qty into [min, max].
func (p Product) Clamp(qty int) int {
	if qty < p.MinQty() {
		qty = p.MinQty()
	}
	if p.MaxQuantity != nil && qty > *p.MaxQuantity {
		qty = *p.MaxQuantity
	}
	return qty
}
