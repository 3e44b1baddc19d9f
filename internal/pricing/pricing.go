package pricing

import (
	"github.com/shopspring/decimal"
)

// Reason explains why a line failed validation.
type Reason string

const (
	ReasonNotFound Reason = "product_not_found"
	ReasonInactive Reason = "product_inactive"
	ReasonQuantity Reason = "quantity_out_of_bounds"
)

type Quote struct {
	ProductID  string          `json:"product_id"`
	Type       ProductType     `json:"product_type"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// UnitPrice is sale price when set, else base price. Custom items charge
// price_per_unit when the catalog defines one.
func UnitPrice(p Product) decimal.Decimal {
	if p.Type == ProductCustomItem && p.PricePerUnit != nil {
		return *p.PricePerUnit
	}
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.BasePrice
}

// Price is the only place a line total is computed: unit × qty, rounded to cents.
func Price(p Product, qty int) Quote {
	unit := UnitPrice(p).Round(2)
	return Quote{
		ProductID:  p.ID,
		Type:       p.Type,
		Quantity:   qty,
		UnitPrice:  unit,
		TotalPrice: unit.Mul(decimal.NewFromInt(int64(qty))).Round(2),
	}
}

// Check reports whether qty of p may be sold.
func Check(p Product, qty int) (Reason, bool) {
	if !p.Active {
		return ReasonInactive, false
	}
	if !p.InBounds(qty) {
		return ReasonQuantity, false
	}
	return "", true
}

// Tax rounds subtotal × rate to cents.
func Tax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(rate).Round(2)
}
