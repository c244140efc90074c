package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/address"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/cart"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/metrics"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
)

// CartStore is the part of the cart repository checkout consumes.
type CartStore interface {
	GetOrCreateForUpdate(ctx context.Context, userID int64) (*cart.Cart, error)
	ListLines(ctx context.Context, cartID int64) ([]cart.Line, error)
	ClearItems(ctx context.Context, cartID int64) error
}

// StockStore locks and decrements product stock.
type StockStore interface {
	LockProducts(ctx context.Context, ids []int64) (map[int64]*catalog.Product, error)
	DecrementStock(ctx context.Context, id int64, qty int) error
}

type AddressSource interface {
	GetByID(ctx context.Context, id int64) (*address.Address, error)
}

type EventWriter interface {
	Write(ctx context.Context, eventType, key string, data any) error
}

type Service interface {
	Checkout(ctx context.Context, userID, shippingAddressID int64) (*Order, error)
	GetOrder(ctx context.Context, p auth.Principal, id int64) (*Order, error)
	ListOrders(ctx context.Context, userID int64) ([]Order, error)
	ListAllOrders(ctx context.Context) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status Status) (*Order, error)
}

type service struct {
	tx        db.Transactor
	repo      Repository
	carts     CartStore
	stock     StockStore
	addresses AddressSource
	events    EventWriter
	now       func() time.Time
}

func NewService(tx db.Transactor, repo Repository, carts CartStore, stock StockStore, addresses AddressSource, events EventWriter) Service {
	return &service{
		tx:        tx,
		repo:      repo,
		carts:     carts,
		stock:     stock,
		addresses: addresses,
		events:    events,
		now:       time.Now,
	}
}

// Event payloads published through the outbox.
type (
	CreatedEvent struct {
		OrderID     int64           `json:"orderId"`
		UserID      int64           `json:"userId"`
		TotalAmount decimal.Decimal `json:"totalAmount"`
		Items       int             `json:"items"`
	}
	StatusChangedEvent struct {
		OrderID int64  `json:"orderId"`
		From    Status `json:"from"`
		To      Status `json:"to"`
	}
)

func eventKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

func (s *service) Checkout(ctx context.Context, userID, shippingAddressID int64) (*Order, error) {
	var created *Order

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.carts.GetOrCreateForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		lines, err := s.carts.ListLines(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrCartEmpty
		}

		addr, err := s.addresses.GetByID(ctx, shippingAddressID)
		if err != nil {
			return err
		}
		if addr.UserID != userID {
			return address.ErrNotOwner
		}

		ids := make([]int64, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.ProductID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		locked, err := s.stock.LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		o := &Order{
			UserID:            userID,
			Status:            StatusPending,
			TotalAmount:       decimal.Zero,
			OrderDate:         s.now().UTC(),
			ShippingAddressID: &addr.ID,
			ShippingAddress:   addr,
		}

		for _, l := range lines {
			p, ok := locked[l.ProductID]
			if !ok {
				return fmt.Errorf("%w: %d", catalog.ErrProductNotFound, l.ProductID)
			}
			if p.StockQuantity < l.Quantity {
				return fmt.Errorf("%w for product %q: requested %d, available %d",
					catalog.ErrInsufficientStock, p.Name, l.Quantity, p.StockQuantity)
			}
			o.AddItem(Item{
				ProductID:       p.ID,
				ProductName:     p.Name,
				ProductImageURL: p.ImageURL,
				Quantity:        l.Quantity,
				PriceAtTime:     p.Price,
			})
		}

		if err := s.repo.Create(ctx, o); err != nil {
			return err
		}

		for _, it := range o.Items {
			if err := s.stock.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}

		if err := s.carts.ClearItems(ctx, c.ID); err != nil {
			return err
		}

		err = s.events.Write(ctx, outbox.EventOrderCreated, eventKey(o.ID), CreatedEvent{
			OrderID:     o.ID,
			UserID:      userID,
			TotalAmount: o.TotalAmount,
			Items:       len(o.Items),
		})
		if err != nil {
			return err
		}

		created = o
		return nil
	})
	if err != nil {
		return nil, checkoutError(err, userID)
	}

	metrics.OrderCreated()
	log.Info().
		Int64("order_id", created.ID).
		Int64("user_id", userID).
		Str("total_amount", created.TotalAmount.StringFixed(2)).
		Msg("service: order created")
	return created, nil
}

func checkoutError(err error, userID int64) error {
	switch {
	case errors.Is(err, ErrCartEmpty),
		errors.Is(err, address.ErrNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, address.ErrNotOwner),
		errors.Is(err, catalog.ErrInsufficientStock):
		log.Warn().Err(err).Int64("user_id", userID).Msg("service: checkout rejected")
		return err
	}
	log.Error().Err(err).Int64("user_id", userID).Msg("service: checkout failed")
	return fmt.Errorf("failed to create order: %w", err)
}

func (s *service) GetOrder(ctx context.Context, p auth.Principal, id int64) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Int64("order_id", id).Msg("service: failed to get order")
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if !p.CanAccess(o.UserID) {
		log.Warn().Int64("order_id", id).Int64("user_id", p.UserID).Msg("service: order access denied")
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, userID int64) ([]Order, error) {
	orders, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("service: failed to list orders")
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *service) ListAllOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.repo.ListAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list all orders")
		return nil, fmt.Errorf("failed to list all orders: %w", err)
	}
	return orders, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, id int64, status Status) (*Order, error) {
	var (
		o    *Order
		prev Status
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		prev = o.Status
		changed, err := o.TransitionTo(status)
		if err != nil || !changed {
			return err
		}

		if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		return s.events.Write(ctx, outbox.EventOrderStatusChanged, eventKey(id), StatusChangedEvent{
			OrderID: id,
			From:    prev,
			To:      status,
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownStatus):
			return nil, err
		case errors.Is(err, ErrInvalidStatusTransition):
			log.Warn().Err(err).Int64("order_id", id).Msg("service: invalid status transition attempt")
			return nil, err
		}
		log.Error().Err(err).Int64("order_id", id).Stringer("new_status", status).Msg("service: failed to update order status")
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	if prev == status {
		log.Info().Int64("order_id", id).Stringer("status", status).Msg("service: order status is already the same, no update needed")
	} else {
		log.Info().Int64("order_id", id).Stringer("old_status", prev).Stringer("new_status", status).Msg("service: order status updated")
	}
	return o, nil
}
