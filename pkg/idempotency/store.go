// Package idempotency deduplicates client retries keyed by the
// Idempotency-Key request header, backed by Redis.
package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Header is the request header carrying the client supplied key.
const Header = "Idempotency-Key"

// MaxKeyLength bounds accepted header values.
const MaxKeyLength = 255

const pending = "pending"

// ErrInvalidKey is returned for empty or oversized keys.
var ErrInvalidKey = errors.New("invalid idempotency key")

// Client is the subset of redis commands the Store needs.
// *redis.Client and *redis.ClusterClient implement it.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Reservation is the outcome of Reserve.
type Reservation struct {
	// Acquired is true when the caller owns the key and must Complete or
	// Release it.
	Acquired bool
	// ResourceID identifies what the first request created. Empty while
	// that request is still in flight.
	ResourceID string
}

// Store records idempotency keys with a TTL.
type Store struct {
	rdb Client
	ttl time.Duration
}

// NewStore creates a Store. Keys expire after ttl.
func NewStore(rdb Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key namespaces a client key by scope, typically the operation and user.
func (s *Store) Key(scope, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxKeyLength {
		return "", ErrInvalidKey
	}
	return fmt.Sprintf("idem:%s:%s", scope, key), nil
}

// Reserve claims key. If it is already claimed, the returned reservation
// reports the resource created under it, if any.
func (s *Store) Reserve(ctx context.Context, key string) (Reservation, error) {
	ok, err := s.rdb.SetNX(ctx, key, pending, s.ttl).Result()
	if err != nil {
		return Reservation{}, errors.Wrap(err, "setnx")
	}
	if ok {
		return Reservation{Acquired: true}, nil
	}

	v, err := s.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Released between the two calls; treat as in flight.
		return Reservation{}, nil
	case err != nil:
		return Reservation{}, errors.Wrap(err, "get")
	case v == pending:
		return Reservation{}, nil
	default:
		return Reservation{ResourceID: v}, nil
	}
}

// Complete records resourceID under a reserved key.
func (s *Store) Complete(ctx context.Context, key, resourceID string) error {
	if err := s.rdb.Set(ctx, key, resourceID, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}

// Release frees a reserved key so the client may retry.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}

// Ping checks that Redis is reachable. It is a no-op for clients that do
// not support PING.
func (s *Store) Ping(ctx context.Context) error {
	p, ok := s.rdb.(interface {
		Ping(ctx context.Context) *redis.StatusCmd
	})
	if !ok {
		return nil
	}
	return p.Ping(ctx).Err()
}
