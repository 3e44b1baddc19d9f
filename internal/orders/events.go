package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated         = "OrderCreated"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventOrderPaymentRecorded = "OrderPaymentRecorded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, orderID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

// DecodePayload unpacks an envelope payload into T.
func DecodePayload[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}

// EventPublisher ships envelopes to a broker. Implementations must not block
// order writes for long; the manager treats failures as non-fatal.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, env Envelope) error
}

type OrderCreatedPayload struct {
	OrderID      string `json:"order_id"`
	ExternalID   string `json:"external_id,omitempty"`
	CustomerID   string `json:"customer_id"`
	OrderType    string `json:"order_type"`
	Total        string `json:"total"`
	CreditsUsed  string `json:"credits_used"`
	ReferralCode string `json:"referral_code,omitempty"`
	ItemCount    int    `json:"item_count"`
}

type StatusChangedPayload struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	From       Status `json:"from"`
	To         Status `json:"to"`
	Note       string `json:"note,omitempty"`
}

type PaymentRecordedPayload struct {
	OrderID       string        `json:"order_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentRef    string        `json:"payment_ref,omitempty"`
}
