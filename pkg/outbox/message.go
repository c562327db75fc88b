// Package outbox relays events recorded in a transactional outbox table to
// Kafka.
package outbox

import "time"

// Status is the delivery state of an outbox row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Message is one outbox row claimed for delivery.
type Message struct {
	ID          int64
	EventID     string
	AggregateID string
	Type        string
	Payload     []byte
	OccurredAt  time.Time
	RetryCount  int
}
