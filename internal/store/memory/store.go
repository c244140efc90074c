// Package memory is an in-process implementation of every repository,
// used for local development and tests. A transaction holds the store lock
// for its whole duration and is rolled back by restoring a snapshot.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/address"
	"github.com/vasiliy-maslov/storefront/internal/cart"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type state struct {
	seq        map[string]int64
	users      map[int64]user.User
	addresses  map[int64]address.Address
	categories map[int64]catalog.Category
	products   map[int64]catalog.Product
	carts      map[int64]cart.Cart
	cartItems  map[int64]cart.Item
	orders     map[int64]order.Order
	orderItems map[int64]order.Item
	outbox     map[int64]outbox.Record
}

func newState() *state {
	return &state{
		seq:        map[string]int64{},
		users:      map[int64]user.User{},
		addresses:  map[int64]address.Address{},
		categories: map[int64]catalog.Category{},
		products:   map[int64]catalog.Product{},
		carts:      map[int64]cart.Cart{},
		cartItems:  map[int64]cart.Item{},
		orders:     map[int64]order.Order{},
		orderItems: map[int64]order.Item{},
		outbox:     map[int64]outbox.Record{},
	}
}

func (st *state) clone() *state {
	return &state{
		seq:        maps.Clone(st.seq),
		users:      maps.Clone(st.users),
		addresses:  maps.Clone(st.addresses),
		categories: maps.Clone(st.categories),
		products:   maps.Clone(st.products),
		carts:      maps.Clone(st.carts),
		cartItems:  maps.Clone(st.cartItems),
		orders:     maps.Clone(st.orders),
		orderItems: maps.Clone(st.orderItems),
		outbox:     maps.Clone(st.outbox),
	}
}

func (st *state) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// WithinTx serializes fn against every other store access and undoes its
// writes when it fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic_value", r).Msg("Panic recovered inside transaction, rolling back")
			s.st = snapshot
			panic(r)
		}
		if err != nil {
			s.st = snapshot
		}
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return fn(context.WithValue(ctx, txKey{}, s))
}

// Ping satisfies the health check.
func (s *Store) Ping(context.Context) error {
	return nil
}

// read runs fn with the state, taking the lock unless ctx is inside a
// transaction of this store.
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// write is read for mutations; outside a transaction a failed fn leaves no
// partial writes behind.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return fn(s.st)
	})
}

func (s *Store) Users() user.Repository        { return userRepo{s} }
func (s *Store) Addresses() address.Repository { return addressRepo{s} }
func (s *Store) Catalog() *CatalogRepo         { return &CatalogRepo{s} }
func (s *Store) Carts() cart.Repository        { return cartRepo{s} }
func (s *Store) Orders() order.Repository      { return orderRepo{s} }
func (s *Store) Outbox() outbox.Repository     { return outboxRepo{s} }
