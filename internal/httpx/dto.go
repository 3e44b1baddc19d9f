package httpx

import (
	"encoding/json"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/cart"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/referral"
	"github.com/shopspring/decimal"
)

// money renders as a fixed two-decimal string.
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	return json.Marshal(decimal.Decimal(m).StringFixed(2))
}

type productDTO struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Type         pricing.ProductType `json:"product_type"`
	Price        money               `json:"price"`
	BasePrice    money               `json:"base_price"`
	MinQuantity  int                 `json:"min_quantity"`
	MaxQuantity  *int                `json:"max_quantity,omitempty"`
	PricePerUnit *money              `json:"price_per_unit,omitempty"`
}

func toProductDTO(p pricing.Product) productDTO {
	d := productDTO{
		ID:          p.ID,
		Name:        p.Name,
		Type:        p.Type,
		Price:       money(pricing.UnitPrice(p)),
		BasePrice:   money(p.BasePrice),
		MinQuantity: p.MinQty(),
		MaxQuantity: p.MaxQuantity,
	}
	if p.PricePerUnit != nil {
		ppu := money(*p.PricePerUnit)
		d.PricePerUnit = &ppu
	}
	return d
}

type lineDTO struct {
	ProductID string              `json:"product_id"`
	Name      string              `json:"name,omitempty"`
	Type      pricing.ProductType `json:"product_type"`
	Quantity  int                 `json:"quantity"`
	UnitPrice money               `json:"unit_price"`
	Total     money               `json:"total_price"`
	Options   map[string]string   `json:"custom_options,omitempty"`
}

type quoteReq struct {
	Items []pricing.LineRequest `json:"items"`
}

type quoteResp struct {
	Lines    []lineDTO             `json:"lines"`
	Invalid  []pricing.InvalidLine `json:"invalid,omitempty"`
	Subtotal money                 `json:"subtotal"`
	Tax      money                 `json:"tax"`
	Total    money                 `json:"total"`
}

type cartResp struct {
	Lines    []lineDTO `json:"lines"`
	Subtotal money     `json:"subtotal"`
	Tax      money     `json:"tax"`
	Total    money     `json:"total"`
	Version  uint64    `json:"version"`
	Expired  bool      `json:"expired,omitempty"`
	Dropped  int       `json:"dropped,omitempty"`
	Clamped  bool      `json:"clamped,omitempty"`
}

func toCartResp(c *cart.Cart, rr cart.RestoreResult) cartResp {
	resp := cartResp{
		Lines:    []lineDTO{},
		Subtotal: money(c.Subtotal()),
		Tax:      money(c.Tax()),
		Total:    money(c.Total()),
		Version:  c.Version(),
		Expired:  rr.Expired,
		Dropped:  rr.Dropped,
	}
	for _, l := range c.Lines() {
		resp.Lines = append(resp.Lines, lineDTO{
			ProductID: l.Product.ID,
			Name:      l.Product.Name,
			Type:      l.Product.Type,
			Quantity:  l.Quantity,
			UnitPrice: money(l.UnitPrice),
			Total:     money(l.TotalPrice),
			Options:   l.Options,
		})
	}
	return resp
}

type addCartItemReq struct {
	ProductID string            `json:"product_id"`
	Quantity  int               `json:"quantity"`
	Options   map[string]string `json:"custom_options"`
}

type checkoutReq struct {
	ExternalID   string          `json:"external_id"`
	Credits      decimal.Decimal `json:"credits"`
	ReferralCode string          `json:"referral_code"`
	Notes        string          `json:"notes"`
}

type createOrderReq struct {
	ExternalID   string                `json:"external_id"`
	OrderType    orders.OrderType      `json:"order_type"`
	Items        []pricing.LineRequest `json:"items"`
	Credits      decimal.Decimal       `json:"credits"`
	ReferralCode string                `json:"referral_code"`
	Notes        string                `json:"notes"`
}

type orderDTO struct {
	ID                string                   `json:"id"`
	ExternalID        string                   `json:"external_id,omitempty"`
	CustomerID        string                   `json:"customer_id"`
	Type              orders.OrderType         `json:"order_type"`
	Items             []lineDTO                `json:"items"`
	Subtotal          money                    `json:"subtotal"`
	Tax               money                    `json:"tax"`
	Discount          money                    `json:"discount"`
	CreditsUsed       money                    `json:"credits_used"`
	Total             money                    `json:"total_amount"`
	Status            orders.Status            `json:"status"`
	PaymentStatus     orders.PaymentStatus     `json:"payment_status"`
	FulfillmentStatus orders.FulfillmentStatus `json:"fulfillment_status"`
	Progress          int                      `json:"progress"`
	History           []orders.HistoryEntry    `json:"status_history"`
	Notes             string                   `json:"notes,omitempty"`
	AdminNotes        string                   `json:"admin_notes,omitempty"`
	ReferralCode      string                   `json:"referral_code,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
}

func toOrderDTO(o orders.Order, admin bool) orderDTO {
	d := orderDTO{
		ID:                o.ID,
		ExternalID:        o.ExternalID,
		CustomerID:        o.CustomerID,
		Type:              o.Type,
		Items:             make([]lineDTO, 0, len(o.Items)),
		Subtotal:          money(o.Subtotal),
		Tax:               money(o.Tax),
		Discount:          money(o.Discount),
		CreditsUsed:       money(o.CreditsUsed),
		Total:             money(o.Total),
		Status:            o.Status,
		PaymentStatus:     o.PaymentStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		Progress:          o.Progress,
		History:           o.History,
		Notes:             o.Notes,
		ReferralCode:      o.ReferralCode,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		CompletedAt:       o.CompletedAt,
	}
	if admin {
		d.AdminNotes = o.AdminNotes
	}
	for _, it := range o.Items {
		d.Items = append(d.Items, lineDTO{
			ProductID: it.ProductID,
			Name:      it.Name,
			Type:      it.ProductType,
			Quantity:  it.Quantity,
			UnitPrice: money(it.UnitPrice),
			Total:     money(it.TotalPrice),
			Options:   it.Options,
		})
	}
	return d
}

type createOrderResp struct {
	Order      orderDTO `json:"order"`
	Warnings   []string `json:"warnings,omitempty"`
	Idempotent bool     `json:"idempotent"`
}

// orderStatusView is what the Redis status cache holds.
type orderStatusView struct {
	OrderID       string               `json:"order_id"`
	CustomerID    string               `json:"customer_id"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	Progress      int                  `json:"progress"`
}

type statusReq struct {
	Status   orders.Status `json:"status"`
	Note     string        `json:"note"`
	Override bool          `json:"override"`
}

type paymentReq struct {
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	PaymentRef    string               `json:"payment_ref"`
}

type progressReq struct {
	Progress int `json:"progress"`
}

type noteReq struct {
	Note string `json:"note"`
}

type amountReq struct {
	Amount decimal.Decimal `json:"amount"`
}

type balanceResp struct {
	UserID  string `json:"user_id"`
	Balance money  `json:"balance"`
}

type codeReq struct {
	Code string `json:"code"`
}

type referralStatsResp struct {
	Code            string                   `json:"code,omitempty"`
	TotalReferred   int                      `json:"total_referred"`
	TotalEarned     money                    `json:"total_earned"`
	PendingEarnings money                    `json:"pending_earnings"`
	CreditBalance   money                    `json:"credit_balance"`
	ByOrderType     map[orders.OrderType]int `json:"by_order_type"`
}

func toReferralStats(code string, st referral.Stats) referralStatsResp {
	return referralStatsResp{
		Code:            code,
		TotalReferred:   st.TotalReferred,
		TotalEarned:     money(st.TotalEarned),
		PendingEarnings: money(st.PendingEarnings),
		CreditBalance:   money(st.CreditBalance),
		ByOrderType:     st.ByOrderType,
	}
}
