package referral

import (
	"strings"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// BucketFor maps an order status onto the three referral states.
func BucketFor(s orders.Status) Status {
	switch s {
	case orders.StatusCompleted:
		return StatusCompleted
	case orders.StatusCancelled, orders.StatusRefunded:
		return StatusCancelled
	default:
		return StatusPending
	}
}

type Record struct {
	ID         string
	ReferrerID string
	Code       string
	OrderID    string
	CustomerID string
	OrderType  orders.OrderType
	Commission decimal.Decimal
	Status     Status
	CreditedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Stats struct {
	TotalReferred   int                      `json:"total_referred"`
	TotalEarned     decimal.Decimal          `json:"total_earned"`
	PendingEarnings decimal.Decimal          `json:"pending_earnings"`
	CreditBalance   decimal.Decimal          `json:"credit_balance"`
	ByOrderType     map[orders.OrderType]int `json:"by_order_type"`
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
