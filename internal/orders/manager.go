package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/credit"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Validator interface {
	Validate(ctx context.Context, lines []pricing.LineRequest) (pricing.Result, error)
}

// DebitingRepository stores an order and takes its credits in the same
// transaction.
type DebitingRepository interface {
	InsertDebiting(ctx context.Context, o Order) error
}

// Accruer is told about every order that was created or changed status.
type Accruer interface {
	Accrue(ctx context.Context, o Order) error
}

type Config struct {
	Repo      Repository
	Validator Validator
	Ledger    credit.Ledger
	// DebitInRepo is set when Repo and Ledger share a database. Repo must then
	// implement DebitingRepository; otherwise a failed insert is compensated
	// with a Ledger credit.
	DebitInRepo bool
	Accruer   Accruer        // optional
	Events    EventPublisher // optional
	// ClientIP is best effort; its failure never blocks an order.
	ClientIP func(ctx context.Context) (string, error)
	TaxRate  decimal.Decimal
	Producer string
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Manager owns every write to an order after its creation.
type Manager struct {
	repo      Repository
	debiting  DebitingRepository
	validator Validator
	ledger    credit.Ledger
	accruer   Accruer
	events    EventPublisher
	clientIP  func(ctx context.Context) (string, error)
	taxRate   decimal.Decimal
	producer  string
	now       func() time.Time
	log       *slog.Logger
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Producer == "" {
		cfg.Producer = "order-api"
	}
	m := &Manager{
		repo:      cfg.Repo,
		validator: cfg.Validator,
		ledger:    cfg.Ledger,
		accruer:   cfg.Accruer,
		events:    cfg.Events,
		clientIP:  cfg.ClientIP,
		taxRate:   cfg.TaxRate,
		producer:  cfg.Producer,
		now:       cfg.Clock,
		log:       cfg.Logger,
	}
	if cfg.DebitInRepo {
		m.debiting, _ = cfg.Repo.(DebitingRepository)
	}
	return m
}

// CreateOrder turns checkout lines into a pending order. Prices are re-derived
// from the catalog. Credits are taken in the insert transaction when the repo
// supports it, and otherwise debited first and given back if the insert fails.
func (m *Manager) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	if err := checkCreateInput(in); err != nil {
		return CreateOrderResult{}, err
	}

	if in.ExternalID != "" {
		existing, err := m.repo.GetByExternalID(ctx, in.ExternalID)
		if err == nil {
			return CreateOrderResult{Order: existing, Existing: true}, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return CreateOrderResult{}, err
		}
	}

	res, err := m.validator.Validate(ctx, in.Lines)
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("revalidate lines: %w", err)
	}
	var warnings []string
	for _, bad := range res.Invalid {
		warnings = append(warnings, fmt.Sprintf("dropped %s: %s", bad.ProductID, bad.Reason))
	}
	if len(res.Lines) == 0 {
		return CreateOrderResult{Warnings: warnings}, apperr.Validation("lines", "no valid items to order")
	}
	if len(warnings) > 0 {
		m.log.Warn("invalid lines dropped at checkout", "customer", in.CustomerID, "dropped", len(warnings))
	}

	now := m.now().UTC()
	o := Order{
		ID:                uuid.NewString(),
		ExternalID:        in.ExternalID,
		CustomerID:        in.CustomerID,
		Type:              in.Type,
		Items:             itemsFrom(res.Lines),
		Status:            StatusPending,
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentUnfulfilled,
		History:           []HistoryEntry{{Status: StatusPending, Timestamp: now, Note: "Order created"}},
		Notes:             in.Notes,
		ReferralCode:      strings.ToUpper(strings.TrimSpace(in.ReferralCode)),
		Metadata:          map[string]string{},
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if o.Type == "" {
		o.Type = typeOf(res.Lines)
	}
	for k, v := range in.Metadata {
		o.Metadata[k] = v
	}
	o.Subtotal = res.Subtotal()
	o.Tax = pricing.Tax(o.Subtotal, m.taxRate)
	gross := o.Subtotal.Add(o.Tax)
	o.Discount = decimal.Min(in.Discount.Round(2), gross)
	remaining := gross.Sub(o.Discount)
	o.CreditsUsed = decimal.Min(in.Credits.Round(2), remaining)
	o.Total = remaining.Sub(o.CreditsUsed)

	if m.clientIP != nil {
		if ip, err := m.clientIP(ctx); err != nil {
			m.log.Warn("client ip lookup failed", "error", err)
		} else if ip != "" {
			o.Metadata["client_ip"] = ip
		}
	}

	if err := m.store(ctx, o); err != nil {
		if errors.Is(err, ErrAlreadyExists) && in.ExternalID != "" {
			if existing, gerr := m.repo.GetByExternalID(ctx, in.ExternalID); gerr == nil {
				return CreateOrderResult{Order: existing, Existing: true}, nil
			}
			// the key belongs to a deleted order
			return CreateOrderResult{Warnings: warnings}, apperr.Validation("external_id", "already used by another order")
		}
		return CreateOrderResult{Warnings: warnings}, err
	}

	m.log.Info("order created", "order", o.ID, "customer", o.CustomerID, "total", o.Total.StringFixed(2))
	m.publish(ctx, TopicOrderCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:      o.ID,
		ExternalID:   o.ExternalID,
		CustomerID:   o.CustomerID,
		OrderType:    string(o.Type),
		Total:        o.Total.StringFixed(2),
		CreditsUsed:  o.CreditsUsed.StringFixed(2),
		ReferralCode: o.ReferralCode,
		ItemCount:    len(o.Items),
	})
	m.accrue(ctx, o)
	return CreateOrderResult{Order: o, Warnings: warnings}, nil
}

// UpdateStatus moves the order along the workflow and records the move in the
// history. Completion also stamps completed_at, fulfilment and progress in the
// same write.
func (m *Manager) UpdateStatus(ctx context.Context, id string, to Status, upd StatusUpdate) (Order, error) {
	if !to.Valid() {
		return Order{}, apperr.Validation("status", fmt.Sprintf("unknown status %q", to))
	}
	var from Status
	o, err := m.mutate(ctx, "update status", id, func(o *Order, now time.Time) error {
		if from != "" && from != to && o.Status == to {
			// an earlier attempt committed before its error came back
			return errApplied
		}
		if !CanTransition(o.Status, to) {
			return apperr.Validation("status", fmt.Sprintf("cannot move from %s to %s", o.Status, to))
		}
		note := upd.Note
		if note == "" {
			note = "Status changed to " + string(to)
		}
		if to == StatusCompleted && o.PaymentStatus != PaymentPaid {
			if !upd.Override {
				return apperr.Validation("payment_status", "order must be paid before it can be completed")
			}
			note += " (payment override)"
		}

		from = o.Status
		o.Status = to
		o.History = append(o.History, HistoryEntry{Status: to, Timestamp: now, Note: note})
		switch to {
		case StatusCompleted:
			o.CompletedAt = &now
			o.FulfillmentStatus = FulfillmentFulfilled
			o.Progress = 100
		case StatusInProgress:
			if o.FulfillmentStatus == FulfillmentUnfulfilled {
				o.FulfillmentStatus = FulfillmentInProgress
			}
		case StatusCancelled, StatusRefunded:
			if o.FulfillmentStatus != FulfillmentFulfilled {
				o.FulfillmentStatus = FulfillmentCancelled
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	m.log.Info("order status changed", "order", id, "from", from, "to", to)
	m.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, id, StatusChangedPayload{
		OrderID:    id,
		CustomerID: o.CustomerID,
		From:       from,
		To:         to,
		Note:       upd.Note,
	})
	m.accrue(ctx, o)
	return o, nil
}

// UpdatePaymentStatus records the outcome reported by the payment provider.
func (m *Manager) UpdatePaymentStatus(ctx context.Context, id string, ps PaymentStatus, paymentRef string) (Order, error) {
	if !ps.Valid() {
		return Order{}, apperr.Validation("payment_status", fmt.Sprintf("unknown payment status %q", ps))
	}
	o, err := m.mutate(ctx, "update payment", id, func(o *Order, _ time.Time) error {
		o.PaymentStatus = ps
		if paymentRef != "" {
			o.PaymentRef = paymentRef
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	m.publish(ctx, TopicOrderPayment, EventOrderPaymentRecorded, id, PaymentRecordedPayload{
		OrderID: id, PaymentStatus: ps, PaymentRef: o.PaymentRef,
	})
	return o, nil
}

func (m *Manager) UpdateProgress(ctx context.Context, id string, pct int) (Order, error) {
	if pct < 0 || pct > 100 {
		return Order{}, apperr.Validation("progress", "must be between 0 and 100")
	}
	return m.mutate(ctx, "update progress", id, func(o *Order, _ time.Time) error {
		if o.Status.Closed() {
			return apperr.Validation("status", fmt.Sprintf("order is %s", o.Status))
		}
		o.Progress = pct
		if pct > 0 && o.FulfillmentStatus == FulfillmentUnfulfilled {
			o.FulfillmentStatus = FulfillmentInProgress
		}
		return nil
	})
}

// AddNote overwrites the customer-visible notes, or the admin notes when isAdmin.
func (m *Manager) AddNote(ctx context.Context, id, note string, isAdmin bool) (Order, error) {
	return m.mutate(ctx, "add note", id, func(o *Order, _ time.Time) error {
		if isAdmin {
			o.AdminNotes = note
		} else {
			o.Notes = note
		}
		return nil
	})
}

func (m *Manager) SoftDelete(ctx context.Context, id string) error {
	_, err := m.mutate(ctx, "delete", id, func(o *Order, now time.Time) error {
		o.DeletedAt = &now
		return nil
	})
	if err == nil {
		m.log.Info("order deleted", "order", id)
	}
	return err
}

func (m *Manager) Get(ctx context.Context, id string) (Order, error) {
	return m.repo.Get(ctx, id)
}

func (m *Manager) ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error) {
	return m.repo.ListByCustomer(ctx, customerID, limit)
}

// errApplied tells mutate the change is already stored and needs no write.
var errApplied = errors.New("already applied")

// mutate loads, applies fn and writes back with the version guard. A storage
// failure or a version conflict gets exactly one retry from a fresh read.
func (m *Manager) mutate(ctx context.Context, op, id string, fn func(o *Order, now time.Time) error) (Order, error) {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		var o Order
		o, err = m.repo.Get(ctx, id)
		if err == nil {
			now := m.now().UTC()
			if ferr := fn(&o, now); ferr != nil {
				if errors.Is(ferr, errApplied) {
					return o, nil
				}
				return Order{}, ferr
			}
			o.UpdatedAt = now
			if err = m.repo.Update(ctx, &o); err == nil {
				return o, nil
			}
		}
		if !apperr.Retryable(err) {
			return Order{}, err
		}
		m.log.Warn("order write failed", "op", op, "order", id, "attempt", attempt, "error", err)
	}
	return Order{}, err
}

// store writes o and takes its credits. Errors come back typed.
func (m *Manager) store(ctx context.Context, o Order) error {
	if m.debiting != nil {
		return m.debiting.InsertDebiting(ctx, o)
	}
	if o.CreditsUsed.IsPositive() {
		if _, err := m.ledger.Debit(ctx, o.CustomerID, o.CreditsUsed); err != nil {
			return err
		}
	}
	if err := m.repo.Insert(ctx, o); err != nil {
		m.restoreCredits(ctx, o)
		return apperr.Persistence("insert order", err)
	}
	return nil
}

func (m *Manager) restoreCredits(ctx context.Context, o Order) {
	if !o.CreditsUsed.IsPositive() {
		return
	}
	if _, err := m.ledger.Credit(ctx, o.CustomerID, o.CreditsUsed); err != nil {
		m.log.Error("credit compensation failed", "customer", o.CustomerID,
			"amount", o.CreditsUsed.StringFixed(2), "error", err)
	}
}

func (m *Manager) accrue(ctx context.Context, o Order) {
	if m.accruer == nil {
		return
	}
	if err := m.accruer.Accrue(ctx, o); err != nil {
		m.log.Error("referral accrual failed", "order", o.ID, "status", o.Status, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if m.events == nil {
		return
	}
	env, err := NewEnvelope(eventType, m.producer, orderID, payload)
	if err == nil {
		err = m.events.PublishEvent(ctx, topic, env)
	}
	if err != nil {
		m.log.Warn("event publish failed", "event", eventType, "order", orderID, "error", err)
	}
}

func checkCreateInput(in CreateOrderInput) error {
	switch {
	case in.CustomerID == "":
		return apperr.Validation("customer_id", "required")
	case len(in.Lines) == 0:
		return apperr.Validation("lines", "at least one item is required")
	case in.Discount.IsNegative():
		return apperr.Validation("discount", "must not be negative")
	case in.Credits.IsNegative():
		return apperr.Validation("credits", "must not be negative")
	case in.Type != "" && in.Type != OrderStandard && in.Type != OrderCustom:
		return apperr.Validation("order_type", fmt.Sprintf("unknown order type %q", in.Type))
	}
	return nil
}

func itemsFrom(lines []pricing.ValidLine) []Item {
	out := make([]Item, 0, len(lines))
	for _, l := range lines {
		out = append(out, Item{
			ProductID:   l.ProductID,
			Name:        l.Product.Name,
			ProductType: l.Type,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.TotalPrice,
			Options:     l.Options,
		})
	}
	return out
}

func typeOf(lines []pricing.ValidLine) OrderType {
	for _, l := range lines {
		if l.Type == pricing.ProductCustomItem {
			return OrderCustom
		}
	}
	return OrderStandard
}
