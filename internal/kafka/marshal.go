package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/segmentio/kafka-go"
)

// EnvelopeHeaders mirrors the envelope type and version into message headers.
func EnvelopeHeaders(env orders.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: "x-event-type", Value: []byte(env.EventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	}
}

// PublishEvent makes Producer an orders.EventPublisher.
func (p *Producer) PublishEvent(ctx context.Context, topic string, env orders.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.Publish(ctx, topic, orders.PartitionKey(env.CorrelationID), b, EnvelopeHeaders(env)...)
}
