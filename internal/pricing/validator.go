package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/shopspring/decimal"
)

// ProductSource returns apperr.ErrNotFound (possibly wrapped) for unknown ids.
type ProductSource interface {
	GetProduct(ctx context.Context, id string) (Product, error)
}

// LineRequest is what a client claims about a line. Only the id and quantity are trusted.
type LineRequest struct {
	ProductID   string            `json:"product_id"`
	Quantity    int               `json:"quantity"`
	ProductType ProductType       `json:"product_type,omitempty"`
	Options     map[string]string `json:"custom_options,omitempty"`
}

type ValidLine struct {
	Quote
	Product Product
	Options map[string]string
}

type InvalidLine struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    Reason `json:"reason"`
}

type Result struct {
	Lines   []ValidLine
	Invalid []InvalidLine
}

func (r Result) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range r.Lines {
		sum = sum.Add(l.TotalPrice)
	}
	return sum
}

type Validator struct {
	src ProductSource
	log *slog.Logger
}

func NewValidator(src ProductSource, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{src: src, log: log}
}

// Validate re-derives every line from catalog data. Bad lines land in Result.Invalid;
// only source failures other than not-found abort the call.
func (v *Validator) Validate(ctx context.Context, lines []LineRequest) (Result, error) {
	var res Result
	for i, l := range lines {
		p, err := v.src.GetProduct(ctx, l.ProductID)
		if errors.Is(err, apperr.ErrNotFound) {
			res.Invalid = append(res.Invalid, InvalidLine{Index: i, ProductID: l.ProductID, Quantity: l.Quantity, Reason: ReasonNotFound})
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("load product %s: %w", l.ProductID, err)
		}
		if reason, ok := Check(p, l.Quantity); !ok {
			res.Invalid = append(res.Invalid, InvalidLine{Index: i, ProductID: l.ProductID, Quantity: l.Quantity, Reason: reason})
			continue
		}
		if l.ProductType != "" && l.ProductType != p.Type {
			v.log.Debug("client product type ignored", "product", p.ID, "claimed", l.ProductType, "canonical", p.Type)
		}
		res.Lines = append(res.Lines, ValidLine{Quote: Price(p, l.Quantity), Product: p, Options: l.Options})
	}
	return res, nil
}
