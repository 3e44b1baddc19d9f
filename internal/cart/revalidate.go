package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
)

// Ticket pins a revalidation request to the cart version it was issued for.
type Ticket struct {
	Version uint64
	Lines   []pricing.LineRequest
}

func (c *Cart) BeginRevalidation() Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Ticket{Version: c.version, Lines: c.requestsLocked()}
}

// ApplyRevalidation installs validator output unless the cart moved on since t
// was issued. Invalid lines are dropped. Returns false for a discarded result.
func (c *Cart) ApplyRevalidation(t Ticket, res pricing.Result) bool {
	c.mu.Lock()
	if t.Version != c.version {
		c.mu.Unlock()
		c.log.Debug("stale revalidation discarded", "ticket", t.Version, "current", c.version)
		return false
	}
	c.lines = linesFromResult(res)
	c.validated = c.version
	events := []Event{{Kind: EventRevalidated, Version: c.version}}
	if len(res.Invalid) > 0 {
		events = append(events, Event{Kind: EventLinesDropped, Version: c.version, Dropped: res.Invalid})
	}
	c.mu.Unlock()

	c.emit(events...)
	return true
}

// Revalidate runs a full round trip against the configured validator.
func (c *Cart) Revalidate(ctx context.Context) (bool, error) {
	if c.validator == nil {
		return false, errors.New("cart: no validator configured")
	}
	t := c.BeginRevalidation()
	res, err := c.validator.Validate(ctx, t.Lines)
	if err != nil {
		return false, fmt.Errorf("revalidate cart: %w", err)
	}
	return c.ApplyRevalidation(t, res), nil
}

func linesFromResult(res pricing.Result) []Line {
	out := make([]Line, 0, len(res.Lines))
	for _, l := range res.Lines {
		out = append(out, Line{
			Product:    l.Product,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			TotalPrice: l.TotalPrice,
			Options:    l.Options,
		})
	}
	return out
}
