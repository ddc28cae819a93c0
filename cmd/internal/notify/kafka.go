package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	orderevents "kiln/shared/contracts/orderevents/v1"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes envelopes to one topic, keyed by order id so an order's events stay ordered
// within a partition.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaSink constructs a sink over a kafka.Writer.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSink) Name() string { return SinkKafka }

// Publish writes ev as one message.
func (s *KafkaSink) Publish(ctx context.Context, ev orderevents.Envelope) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	key := ev.OrderID
	if key == "" {
		key = ev.ID
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  ev.TS,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "routing_key", Value: []byte(routingKey(ev))},
			{Key: "version", Value: []byte(ev.V)},
		},
	})
}

// Close flushes pending writes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
