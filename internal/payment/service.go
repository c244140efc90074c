package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/metrics"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
)

var (
	ErrProviderFailed = apperr.New(apperr.ErrBadGateway, "payment creation failed")
	ErrMissingIntent  = apperr.New(apperr.ErrBadRequest, "payment intent id is required")
)

// OrderStore is the part of the order repository payments need.
type OrderStore interface {
	GetByID(ctx context.Context, id int64) (*order.Order, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*order.Order, error)
	SetPaid(ctx context.Context, id int64, intentID string) error
}

type EventWriter interface {
	Write(ctx context.Context, eventType, key string, data any) error
}

type IntentResult struct {
	ClientSecret    string
	PaymentIntentID string
	Amount          int64
	Currency        string
}

type PaidEvent struct {
	OrderID         int64  `json:"orderId"`
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type Service interface {
	// CreatePaymentIntent does not modify the order.
	CreatePaymentIntent(ctx context.Context, p auth.Principal, orderID int64) (*IntentResult, error)
	ConfirmPayment(ctx context.Context, p auth.Principal, orderID int64, intentID string) (*order.Order, error)
	HandleWebhookEvent(ctx context.Context, ev *Event) error
}

type service struct {
	tx       db.Transactor
	orders   OrderStore
	provider Provider
	events   EventWriter
	currency string
}

func NewService(tx db.Transactor, orders OrderStore, provider Provider, events EventWriter, currency string) Service {
	if currency == "" {
		currency = "usd"
	}
	return &service{tx: tx, orders: orders, provider: provider, events: events, currency: currency}
}

func (s *service) CreatePaymentIntent(ctx context.Context, p auth.Principal, orderID int64) (*IntentResult, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		log.Error().Err(err).Int64("order_id", orderID).Msg("service: failed to load order for payment")
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if !p.CanAccess(o.UserID) {
		return nil, order.ErrForbidden
	}
	if o.Status != order.StatusPending {
		return nil, fmt.Errorf("%w: status is %s", order.ErrNotPending, o.Status)
	}

	amount := ToMinorUnits(o.TotalAmount)
	intent, err := s.provider.CreateIntent(ctx, IntentRequest{
		AmountMinor: amount,
		Currency:    s.currency,
		Metadata:    map[string]string{metadataOrderID: strconv.FormatInt(o.ID, 10)},
	})
	if err != nil {
		metrics.Payment(metrics.PaymentIntentFailed)
		log.Error().Err(err).Int64("order_id", orderID).Msg("service: payment provider rejected intent")
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	metrics.Payment(metrics.PaymentIntentCreated)
	log.Info().Int64("order_id", orderID).Str("intent_id", intent.ID).Int64("amount", amount).Msg("service: payment intent created")
	return &IntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          amount,
		Currency:        s.currency,
	}, nil
}

func (s *service) ConfirmPayment(ctx context.Context, p auth.Principal, orderID int64, intentID string) (*order.Order, error) {
	if intentID == "" {
		return nil, ErrMissingIntent
	}

	o, err := s.markPaid(ctx, orderID, intentID, func(o *order.Order) error {
		if !p.CanAccess(o.UserID) {
			return order.ErrForbidden
		}
		return nil
	})
	if err != nil {
		return nil, s.reconcileError(err, orderID, intentID)
	}
	return o, nil
}

func (s *service) HandleWebhookEvent(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventIntentSucceeded:
	case EventIntentFailed:
		metrics.Payment(metrics.PaymentFailed)
		log.Warn().
			Str("intent_id", ev.IntentID).
			Str("order_id", ev.Metadata[metadataOrderID]).
			Str("reason", ev.FailureReason).
			Msg("service: payment failed, order stays pending")
		return nil
	default:
		log.Debug().Str("event_type", ev.Type).Msg("service: webhook event ignored")
		return nil
	}

	orderID, err := strconv.ParseInt(ev.Metadata[metadataOrderID], 10, 64)
	if err != nil || ev.IntentID == "" {
		log.Warn().Str("intent_id", ev.IntentID).Msg("service: succeeded event without order reference ignored")
		return nil
	}

	if _, err := s.markPaid(ctx, orderID, ev.IntentID, nil); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			log.Warn().Int64("order_id", orderID).Str("intent_id", ev.IntentID).Msg("service: succeeded event for unknown order ignored")
			return nil
		}
		return s.reconcileError(err, orderID, ev.IntentID)
	}
	return nil
}

// markPaid moves the order to PAID under its row lock. Repeating it with the
// same intent is a no-op.
func (s *service) markPaid(ctx context.Context, orderID int64, intentID string, check func(*order.Order) error) (*order.Order, error) {
	var (
		o       *order.Order
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.orders.GetByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(o); err != nil {
				return err
			}
		}

		changed, err = o.MarkPaid(intentID)
		if err != nil || !changed {
			return err
		}

		if err := s.orders.SetPaid(ctx, orderID, intentID); err != nil {
			return err
		}
		return s.events.Write(ctx, outbox.EventOrderPaid, fmt.Sprintf("order-%d", orderID), PaidEvent{
			OrderID:         orderID,
			PaymentIntentID: intentID,
			Amount:          ToMinorUnits(o.TotalAmount),
			Currency:        s.currency,
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.Payment(metrics.PaymentSucceeded)
		log.Info().Int64("order_id", orderID).Str("intent_id", intentID).Msg("service: order paid")
	} else {
		metrics.Payment(metrics.PaymentDuplicate)
		log.Info().Int64("order_id", orderID).Str("intent_id", intentID).Msg("service: payment already recorded")
	}
	return o, nil
}

func (s *service) reconcileError(err error, orderID int64, intentID string) error {
	switch {
	case errors.Is(err, order.ErrNotFound), errors.Is(err, order.ErrForbidden):
		return err
	case errors.Is(err, order.ErrPaymentMismatch), errors.Is(err, order.ErrNotPending):
		log.Warn().Err(err).Int64("order_id", orderID).Str("intent_id", intentID).Msg("service: payment rejected")
		return err
	}
	log.Error().Err(err).Int64("order_id", orderID).Str("intent_id", intentID).Msg("service: failed to record payment")
	return fmt.Errorf("failed to record payment: %w", err)
}
