package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// Producer writes messages to Kafka. *kafka.Writer implements it.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher publishes outbox messages to a single topic, keyed by aggregate
// id so events of one order stay in one partition.
type Publisher struct {
	producer Producer
}

// NewPublisher creates a Publisher writing through producer.
func NewPublisher(producer Producer) *Publisher {
	return &Publisher{producer: producer}
}

// NewWriter returns a kafka.Writer for topic that hashes message keys to
// partitions and waits for all in-sync replicas.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Publish writes msgs in one call.
func (p *Publisher) Publish(ctx context.Context, msgs ...Message) error {
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, kafka.Message{
			Key:   []byte(m.AggregateID),
			Value: m.Payload,
			Time:  m.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(m.EventID)},
				{Key: "event_type", Value: []byte(m.Type)},
			},
		})
	}
	if err := p.producer.WriteMessages(ctx, out...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}
