package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/address"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPaid       Status = "PAID"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// allowedTransitions lists the administrative moves. PENDING to PAID is
// reserved for payment reconciliation and deliberately absent.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusShipped: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var (
	ErrNotFound                = apperr.New(apperr.ErrNotFound, "order not found")
	ErrForbidden               = apperr.New(apperr.ErrForbidden, "order belongs to another user")
	ErrCartEmpty               = apperr.New(apperr.ErrConflict, "cart is empty")
	ErrInvalidStatusTransition = apperr.New(apperr.ErrConflict, "invalid order status transition")
	ErrNotPending              = apperr.New(apperr.ErrConflict, "order is not pending payment")
	ErrPaymentMismatch         = apperr.New(apperr.ErrConflict, "order already paid with a different payment intent")
	ErrUnknownStatus           = apperr.New(apperr.ErrBadRequest, "unknown order status")
)

type Item struct {
	ID              int64           `db:"id"`
	OrderID         int64           `db:"order_id"`
	ProductID       int64           `db:"product_id"`
	ProductName     string          `db:"product_name"`
	ProductImageURL string          `db:"product_image_url"`
	Quantity        int             `db:"quantity"`
	PriceAtTime     decimal.Decimal `db:"price_at_time"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.PriceAtTime.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is immutable in its items once created; only status and payment
// intent change afterwards.
type Order struct {
	ID                int64           `db:"id"`
	UserID            int64           `db:"user_id"`
	Status            Status          `db:"status"`
	TotalAmount       decimal.Decimal `db:"total_amount"`
	OrderDate         time.Time       `db:"order_date"`
	ShippingAddressID *int64          `db:"shipping_address_id"`
	PaymentIntentID   *string         `db:"payment_intent_id"`
	UpdatedAt         time.Time       `db:"updated_at"`

	Items           []Item
	ShippingAddress *address.Address
}

// AddItem attaches item to the order and keeps the total in step.
func (o *Order) AddItem(item Item) {
	item.OrderID = o.ID
	o.Items = append(o.Items, item)
	o.TotalAmount = o.TotalAmount.Add(item.Subtotal())
}

func (o *Order) ComputedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// MarkPaid records a successful payment. It reports false when the order is
// already paid with the same intent.
func (o *Order) MarkPaid(intentID string) (bool, error) {
	switch o.Status {
	case StatusPending:
		o.Status = StatusPaid
		o.PaymentIntentID = &intentID
		return true, nil
	case StatusPaid:
		if o.PaymentIntentID != nil && *o.PaymentIntentID == intentID {
			return false, nil
		}
		return false, ErrPaymentMismatch
	default:
		return false, fmt.Errorf("%w: status is %s", ErrNotPending, o.Status)
	}
}

// TransitionTo applies an administrative status change. It reports false
// when the order already has the requested status.
func (o *Order) TransitionTo(next Status) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownStatus, next)
	}
	if o.Status == next {
		return false, nil
	}
	if !allowedTransitions[o.Status][next] {
		return false, fmt.Errorf("%w from %s to %s", ErrInvalidStatusTransition, o.Status, next)
	}
	o.Status = next
	return true, nil
}
