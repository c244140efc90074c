package payment

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"

	// SignatureHeader carries the provider signature of a webhook body.
	SignatureHeader = "Stripe-Signature"

	metadataOrderID = "orderId"
)

var ErrInvalidWebhook = apperr.New(apperr.ErrBadRequest, "invalid webhook event")

// Event is a provider notification about a payment intent.
type Event struct {
	Type          string
	IntentID      string
	Metadata      map[string]string
	FailureReason string
}

// WebhookVerifier authenticates a raw webhook body and decodes it.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (*Event, error)
}

type intentObject struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (o intentObject) event(eventType string) *Event {
	ev := &Event{Type: eventType, IntentID: o.ID, Metadata: o.Metadata}
	if o.LastPaymentError != nil {
		ev.FailureReason = o.LastPaymentError.Message
	}
	return ev
}

type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

func (v *StripeVerifier) Verify(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if ev.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidWebhook)
	}

	var obj intentObject
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	return obj.event(string(ev.Type)), nil
}

// UnverifiedParser decodes the webhook envelope without checking any
// signature. It is meant for local development only.
type UnverifiedParser struct{}

func (UnverifiedParser) Verify(payload []byte, _ string) (*Event, error) {
	var envelope struct {
		Type string `json:"type"`
		Data struct {
			Object intentObject `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidWebhook)
	}
	return envelope.Data.Object.event(envelope.Type), nil
}
