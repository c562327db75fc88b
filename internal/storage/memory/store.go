// Package memory implements the order store contracts in process memory.
//
// Transactions are fully serialized: Begin takes a store-wide lock and works
// on a private copy of the committed state, Commit publishes the copy and
// Rollback discards it. Readers outside a transaction always see the last
// committed state.
//
// Begin copies the whole catalog and order set, so the store suits tests and
// local development, not large data sets. Committed events are kept in a
// bounded log since nothing relays them.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
)

var (
	_ order.Store     = (*Store)(nil)
	_ auth.Repository = (*Store)(nil)
)

// ErrTxDone is returned by operations on a committed or rolled back
// transaction.
var ErrTxDone = errors.New("transaction already finished")

type state struct {
	products map[string]product.Product
	orders   map[string]order.Order
	apiKeys  map[string]auth.APIKeyInfo
}

func (s *state) clone() *state {
	return &state{
		products: maps.Clone(s.products),
		orders:   maps.Clone(s.orders),
		apiKeys:  maps.Clone(s.apiKeys),
	}
}

// Store is an in-memory order and product store.
type Store struct {
	// txSlot is a one-slot semaphore held from Begin until the transaction
	// finishes.
	txSlot chan struct{}

	mu        sync.RWMutex
	committed *state
	events    []order.Event
	now       func() time.Time
	newID     func() string

	eventLimit int
}

// DefaultEventLimit is the number of committed events a Store retains.
const DefaultEventLimit = 1000

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for stored timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEventLimit sets how many committed events are retained. Older events
// are dropped first. n <= 0 keeps every event.
func WithEventLimit(n int) Option {
	return func(s *Store) { s.eventLimit = n }
}

// WithIDs sets the generator for order and item ids.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		committed: &state{
			products: map[string]product.Product{},
			orders:   map[string]order.Order{},
			apiKeys:  map[string]auth.APIKeyInfo{},
		},
		txSlot:     make(chan struct{}, 1),
		now:        time.Now,
		newID:      newUUID,
		eventLimit: DefaultEventLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

// Begin starts a transaction, waiting for any running one to finish or ctx
// to be done.
func (s *Store) Begin(ctx context.Context) (order.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	select {
	case s.txSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "begin")
	}
	return &tx{store: s, state: s.snapshot().clone()}, nil
}

func (s *Store) release() { <-s.txSlot }

// Orders returns a repository reading committed state.
func (s *Store) Orders() order.Repository {
	return &orders{state: s.snapshot(), readOnly: true, now: s.now, newID: s.newID}
}

// Products returns a repository reading committed state.
func (s *Store) Products() product.Repository {
	return &products{state: s.snapshot(), readOnly: true}
}

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(p product.Product) {
	s.txSlot <- struct{}{}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.committed.clone()
	next.products[p.ID] = p
	s.committed = next
}

// PutAPIKey registers an API key under its hash.
func (s *Store) PutAPIKey(info auth.APIKeyInfo) {
	s.txSlot <- struct{}{}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.committed.clone()
	next.apiKeys[info.KeyHash] = info
	s.committed = next
}

// FindByHash looks up an API key by its hash.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := s.snapshot().apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	info.Scopes = slices.Clone(info.Scopes)
	return &info, nil
}

// Events returns the retained committed events in append order.
func (s *Store) Events() []order.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type tx struct {
	store   *Store
	state   *state
	pending []order.Event
	done    bool
}

func (t *tx) Products() product.Repository {
	return &products{state: t.state, done: &t.done}
}

func (t *tx) Orders() order.Repository {
	return &orders{state: t.state, done: &t.done, now: t.store.now, newID: t.store.newID}
}

func (t *tx) Events() order.EventLog {
	return &events{tx: t}
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	s.committed = t.state
	s.events = append(s.events, t.pending...)
	if s.eventLimit > 0 && len(s.events) > s.eventLimit {
		s.events = slices.Clone(s.events[len(s.events)-s.eventLimit:])
	}
	s.mu.Unlock()

	s.release()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.release()
	return nil
}

type products struct {
	state    *state
	done     *bool
	readOnly bool
}

func (r *products) check() error {
	if r.done != nil && *r.done {
		return ErrTxDone
	}
	return nil
}

func (r *products) GetByID(_ context.Context, id string) (*product.Product, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	p, ok := r.state.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *products) GetByIDsForUpdate(_ context.Context, ids []string) ([]product.Product, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.state.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *products) Exists(_ context.Context, id string) (bool, error) {
	if err := r.check(); err != nil {
		return false, err
	}
	_, ok := r.state.products[id]
	return ok, nil
}

func (r *products) AdjustStock(_ context.Context, id string, delta int) (*product.Product, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if r.readOnly {
		return nil, errors.New("adjust stock outside transaction")
	}
	p, ok := r.state.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	if p.Stock+delta < 0 {
		return nil, product.ErrInsufficientStock
	}
	p = p.WithStock(p.Stock + delta)
	r.state.products[id] = p
	return &p, nil
}

type orders struct {
	state    *state
	done     *bool
	readOnly bool
	now      func() time.Time
	newID    func() string
}

func (r *orders) check(write bool) error {
	if r.done != nil && *r.done {
		return ErrTxDone
	}
	if write && r.readOnly {
		return errors.New("write outside transaction")
	}
	return nil
}

func (r *orders) GetByID(_ context.Context, id string) (*order.Order, error) {
	if err := r.check(false); err != nil {
		return nil, err
	}
	o, ok := r.state.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (r *orders) GetByIDForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *orders) ListByUser(_ context.Context, userID string, page order.Page) ([]order.Order, int, error) {
	if err := r.check(false); err != nil {
		return nil, 0, err
	}
	var owned []order.Order
	for _, o := range r.state.orders {
		if o.OwnedBy(userID) {
			owned = append(owned, o)
		}
	}
	slices.SortFunc(owned, func(a, b order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	total := len(owned)
	start := min(page.Offset(), total)
	end := min(start+page.Limit, total)
	out := make([]order.Order, 0, end-start)
	for _, o := range owned[start:end] {
		o.Items = slices.Clone(o.Items)
		out = append(out, o)
	}
	return out, total, nil
}

func (r *orders) Save(_ context.Context, o order.Order) (*order.Order, error) {
	if err := r.check(true); err != nil {
		return nil, err
	}
	if o.ID == "" {
		o.ID = r.newID()
	}
	if _, exists := r.state.orders[o.ID]; exists {
		return nil, errors.Errorf("order %s already exists", o.ID)
	}
	o.Items = r.assignItems(o.Items, o.CreatedAt)
	r.state.orders[o.ID] = o

	saved := o
	saved.Items = slices.Clone(o.Items)
	return &saved, nil
}

func (r *orders) ReplaceItems(_ context.Context, orderID string, items []order.Item, total decimal.Decimal) (*order.Order, error) {
	if err := r.check(true); err != nil {
		return nil, err
	}
	o, ok := r.state.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	now := r.now()
	o.Items = r.assignItems(items, now)
	o.Total = total
	o.UpdatedAt = now
	r.state.orders[orderID] = o

	updated := o
	updated.Items = slices.Clone(o.Items)
	return &updated, nil
}

func (r *orders) UpdateStatus(_ context.Context, orderID string, status order.Status) (*order.Order, error) {
	if err := r.check(true); err != nil {
		return nil, err
	}
	o, ok := r.state.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	o = o.WithStatus(status, r.now())
	r.state.orders[orderID] = o

	updated := o
	updated.Items = slices.Clone(o.Items)
	return &updated, nil
}

// assignItems returns a copy of items with ids and creation times filled in.
func (r *orders) assignItems(items []order.Item, now time.Time) []order.Item {
	out := slices.Clone(items)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = r.newID()
		}
		if out[i].CreatedAt.IsZero() {
			out[i].CreatedAt = now
		}
	}
	return out
}

type events struct {
	tx *tx
}

func (l *events) Append(_ context.Context, e order.Event) error {
	if l.tx.done {
		return ErrTxDone
	}
	l.tx.pending = append(l.tx.pending, e)
	return nil
}

func newUUID() string { return uuid.New().String() }
