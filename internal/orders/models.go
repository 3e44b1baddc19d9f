package orders

import (
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderStandard OrderType = "standard"
	OrderCustom   OrderType = "custom"
)

// Item is the priced line frozen into the order at creation.
type Item struct {
	ProductID   string              `json:"product_id"`
	Name        string              `json:"name"`
	ProductType pricing.ProductType `json:"product_type"`
	Quantity    int                 `json:"quantity"`
	UnitPrice   decimal.Decimal     `json:"unit_price"`
	TotalPrice  decimal.Decimal     `json:"total_price"`
	Options     map[string]string   `json:"custom_options,omitempty"`
}

type HistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

type Order struct {
	ID                string
	ExternalID        string
	CustomerID        string
	Type              OrderType
	Items             []Item
	Subtotal          decimal.Decimal
	Tax               decimal.Decimal
	Discount          decimal.Decimal
	CreditsUsed       decimal.Decimal
	Total             decimal.Decimal
	Status            Status
	PaymentStatus     PaymentStatus
	PaymentRef        string
	FulfillmentStatus FulfillmentStatus
	Progress          int
	History           []HistoryEntry
	Notes             string
	AdminNotes        string
	ReferralCode      string
	Metadata          map[string]string
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
	DeletedAt         *time.Time
}

type CreateOrderInput struct {
	ExternalID   string
	CustomerID   string
	Type         OrderType // derived from the lines when empty
	Lines        []pricing.LineRequest
	Discount     decimal.Decimal
	Credits      decimal.Decimal // requested; clamped to what the order can absorb
	ReferralCode string
	Notes        string
	Metadata     map[string]string
}

type CreateOrderResult struct {
	Order    Order
	Warnings []string
	Existing bool
}

type StatusUpdate struct {
	Note string
	// Override lets an admin complete an order whose payment is not marked paid.
	Override bool
}
