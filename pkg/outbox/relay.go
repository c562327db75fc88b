package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Store claims and settles outbox rows.
type Store interface {
	// LockBatch claims up to batchSize pending rows (or rows whose lease
	// expired) for relayID until the lease ends.
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Message, error)
	MarkSent(ctx context.Context, ids []int64) error
	// MarkFailed returns the row to pending, or parks it as failed once it
	// has been attempted maxAttempts times.
	MarkFailed(ctx context.Context, id int64, reason string, maxAttempts int) error
}

// Config tunes a Relay. Zero fields select defaults.
type Config struct {
	RelayID     string
	BatchSize   int
	Interval    time.Duration
	Lease       time.Duration
	MaxAttempts int
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.RelayID == "" {
		c.RelayID = "relay"
	}
}

// Relay periodically moves claimed outbox rows to Kafka.
type Relay struct {
	lg        *zap.Logger
	store     Store
	publisher *Publisher
	cfg       Config
}

// NewRelay creates a Relay.
func NewRelay(lg *zap.Logger, store Store, publisher *Publisher, cfg Config) *Relay {
	cfg.setDefaults()
	return &Relay{
		lg:        lg.Named("outbox").With(zap.String("relay_id", cfg.RelayID)),
		store:     store,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	r.lg.Info("Relay started", zap.Duration("interval", r.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			r.lg.Info("Relay stopping")
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.lg.Error("Relay iteration failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims one batch and publishes it, returning the number of
// messages marked sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	msgs, err := r.store.LockBatch(ctx, r.cfg.RelayID, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, errors.Wrap(err, "lock batch")
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	err = r.publisher.Publish(ctx, msgs...)
	if err == nil {
		return len(msgs), r.markSent(ctx, msgs)
	}
	// Delivery is at least once: messages of a partially written batch are
	// published again below.
	r.lg.Warn("Batch publish failed, retrying one by one",
		zap.Int("batch", len(msgs)),
		zap.Bool("partial", isPartial(err)),
		zap.Error(err),
	)

	var sent []Message
	for _, m := range msgs {
		if err := r.publisher.Publish(ctx, m); err != nil {
			r.lg.Warn("Publish failed",
				zap.Int64("id", m.ID),
				zap.String("event_id", m.EventID),
				zap.String("type", m.Type),
				zap.Error(err),
			)
			if err := r.store.MarkFailed(ctx, m.ID, err.Error(), r.cfg.MaxAttempts); err != nil {
				return len(sent), errors.Wrapf(err, "mark %d failed", m.ID)
			}
			continue
		}
		sent = append(sent, m)
	}
	return len(sent), r.markSent(ctx, sent)
}

func (r *Relay) markSent(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := r.store.MarkSent(ctx, ids); err != nil {
		return errors.Wrap(err, "mark sent")
	}
	r.lg.Debug("Relayed messages", zap.Int("count", len(ids)))
	return nil
}

// isPartial reports whether err is a kafka-go per-message error list, where
// some messages of the batch may already be written.
func isPartial(err error) bool {
	var writeErrs kafka.WriteErrors
	return errors.As(err, &writeErrs)
}
