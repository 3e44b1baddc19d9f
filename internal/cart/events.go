package cart

import "github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"

type EventKind string

const (
	EventChanged      EventKind = "changed"
	EventCleared      EventKind = "cleared"
	EventRevalidated  EventKind = "revalidated"
	EventLinesDropped EventKind = "lines_dropped"
	EventExpired      EventKind = "expired"
)

type Event struct {
	Kind    EventKind
	Version uint64
	Dropped []pricing.InvalidLine
}

// Subscribe registers fn for cart events. Call the returned func to stop.
// fn runs on the goroutine that caused the event, outside the cart lock.
func (c *Cart) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Cart) emit(events ...Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
