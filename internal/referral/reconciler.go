package referral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type OrderSource interface {
	Get(ctx context.Context, id string) (orders.Order, error)
}

// Reconciler replays accrual from order events, so a referral missed by the
// inline hook in the order manager is picked up later.
type Reconciler struct {
	Attributor  *Attributor
	Orders      OrderSource
	Redis       *redis.Client
	ServiceName string
	Log         *slog.Logger
}

// HandleMessage is installed as the consumer handler. Returning nil commits the offset.
func (r *Reconciler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		r.logger().Warn("undecodable event skipped", "offset", m.Offset, "error", err)
		return nil
	}
	return r.Handle(ctx, env)
}

func (r *Reconciler) Handle(ctx context.Context, env orders.Envelope) error {
	var orderID string
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := orders.DecodePayload[orders.OrderCreatedPayload](env)
		if err != nil {
			return nil
		}
		orderID = p.OrderID
	case orders.EventOrderStatusChanged:
		p, err := orders.DecodePayload[orders.StatusChangedPayload](env)
		if err != nil {
			return nil
		}
		orderID = p.OrderID
	default:
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, r.ServiceName, env.EventID)
	if r.Redis != nil {
		claimed, err := redisx.Claim(ctx, r.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			return fmt.Errorf("dedup claim: %w", err)
		}
		if !claimed {
			return nil
		}
	}

	// the event only says which order moved; accrue from its current state
	o, err := r.Orders.Get(ctx, orderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err == nil {
		err = r.Attributor.Accrue(ctx, o)
	}
	if err != nil {
		if r.Redis != nil {
			if rerr := redisx.Release(ctx, r.Redis, dkey); rerr != nil {
				r.logger().Warn("dedup release failed", "key", dkey, "error", rerr)
			}
		}
		return fmt.Errorf("reconcile order %s: %w", orderID, err)
	}
	return nil
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
