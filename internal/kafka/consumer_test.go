package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestHandleRetries(t *testing.T) {
	c := &Consumer{attempts: 3, log: slog.Default()}

	calls := 0
	err := c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, kafka.Message{})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	boom := errors.New("boom")
	err = c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		return boom
	}, kafka.Message{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestHandleStopsOnCancel(t *testing.T) {
	c := &Consumer{attempts: 5, log: slog.Default()}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := c.handle(ctx, func(context.Context, kafka.Message) error {
		calls++
		cancel()
		return errors.New("fail")
	}, kafka.Message{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
