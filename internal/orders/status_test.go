package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCompleted, true},
		{StatusProcessing, StatusInProgress, true},
		{StatusInProgress, StatusProcessing, false},
		{StatusConfirmed, StatusPending, false},
		{StatusInProgress, StatusCancelled, true},
		{StatusConfirmed, StatusRefunded, true},
		{StatusCompleted, StatusRefunded, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusRefunded, StatusCompleted, false},
		{StatusPending, StatusPending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestEveryOpenStatusCanBeCancelled(t *testing.T) {
	for s := range validNext {
		if s.Closed() {
			continue
		}
		assert.True(t, CanTransition(s, StatusCancelled), s)
		assert.True(t, CanTransition(s, StatusRefunded), s)
	}
	assert.False(t, Status("shipped").Valid())
}
