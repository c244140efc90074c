package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
)

// Mirrors of the relational constraints.
var (
	errDuplicateCartLine = errors.New("memory: duplicate cart line")
	errNegativeTotal     = errors.New("memory: negative order total")
)

type orderRepo struct{ s *Store }

func (r orderRepo) Create(ctx context.Context, o *order.Order) error {
	return r.s.write(ctx, func(st *state) error {
		if o.TotalAmount.IsNegative() {
			return errNegativeTotal
		}
		o.ID = st.next("orders") // как BIGSERIAL
		o.UpdatedAt = r.s.now().UTC()
		for i := range o.Items {
			it := &o.Items[i]
			it.ID = st.next("order_items")
			it.OrderID = o.ID
			st.orderItems[it.ID] = *it
		}

		stored := *o
		stored.Items = nil
		stored.ShippingAddress = nil
		st.orders[o.ID] = stored
		return nil
	})
}

// hydrate attaches items and the shipping address the way the SQL joins do.
func hydrate(st *state, o order.Order) order.Order {
	o.Items = []order.Item{}
	for _, it := range st.orderItems {
		if it.OrderID != o.ID {
			continue
		}
		if p, ok := st.products[it.ProductID]; ok {
			it.ProductName = p.Name
			it.ProductImageURL = p.ImageURL
		}
		o.Items = append(o.Items, it)
	}
	sort.Slice(o.Items, func(i, j int) bool { return o.Items[i].ID < o.Items[j].ID })

	o.ShippingAddress = nil
	if o.ShippingAddressID != nil {
		if a, ok := st.addresses[*o.ShippingAddressID]; ok {
			o.ShippingAddress = &a
		}
	}
	return o
}

func (r orderRepo) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	var out *order.Order
	err := r.s.read(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		o = hydrate(st, o)
		out = &o
		return nil
	})
	return out, err
}

func (r orderRepo) GetByIDForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.GetByID(ctx, id)
}

func (r orderRepo) list(ctx context.Context, keep func(o order.Order) bool) ([]order.Order, error) {
	orders := []order.Order{}
	err := r.s.read(ctx, func(st *state) error {
		for _, o := range st.orders {
			if keep(o) {
				orders = append(orders, hydrate(st, o))
			}
		}
		return nil
	})
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].OrderDate.Equal(orders[j].OrderDate) {
			return orders[i].OrderDate.After(orders[j].OrderDate)
		}
		return orders[i].ID > orders[j].ID
	})
	return orders, err
}

func (r orderRepo) ListByUserID(ctx context.Context, userID int64) ([]order.Order, error) {
	return r.list(ctx, func(o order.Order) bool { return o.UserID == userID })
}

func (r orderRepo) ListAll(ctx context.Context) ([]order.Order, error) {
	return r.list(ctx, func(order.Order) bool { return true })
}

func (r orderRepo) UpdateStatus(ctx context.Context, id int64, status order.Status) error {
	return r.s.write(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		o.Status = status
		o.UpdatedAt = r.s.now().UTC()
		st.orders[id] = o
		return nil
	})
}

func (r orderRepo) SetPaid(ctx context.Context, id int64, intentID string) error {
	return r.s.write(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		if o.Status != order.StatusPending {
			return order.ErrNotPending
		}
		// mirrors the unique index on orders.payment_intent_id
		for otherID, other := range st.orders {
			if otherID != id && other.PaymentIntentID != nil && *other.PaymentIntentID == intentID {
				return fmt.Errorf("%w: intent %s is already recorded on another order", order.ErrPaymentMismatch, intentID)
			}
		}
		o.Status = order.StatusPaid
		o.PaymentIntentID = &intentID
		o.UpdatedAt = r.s.now().UTC()
		st.orders[id] = o
		return nil
	})
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Insert(ctx context.Context, rec *outbox.Record) error {
	return r.s.write(ctx, func(st *state) error {
		rec.ID = st.next("outbox")
		rec.CreatedAt = r.s.now().UTC()
		st.outbox[rec.ID] = *rec
		return nil
	})
}

func (r outboxRepo) FetchPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	var out []outbox.Record
	err := r.s.read(ctx, func(st *state) error {
		for _, rec := range st.outbox {
			if rec.SentAt == nil {
				out = append(out, rec)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r outboxRepo) MarkSent(ctx context.Context, ids []int64) error {
	return r.s.write(ctx, func(st *state) error {
		now := r.s.now().UTC()
		for _, id := range ids {
			if rec, ok := st.outbox[id]; ok {
				rec.SentAt = &now
				st.outbox[id] = rec
			}
		}
		return nil
	})
}
