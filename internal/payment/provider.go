// Package payment collects payment for pending orders through an external
// card processor and reconciles its asynchronous outcomes.
package payment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type IntentRequest struct {
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
}

type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts an amount to whole cents, rounding half up.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(apiKey string) *StripeProvider {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to create payment intent: %w", err)
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// FakeProvider issues deterministic intents without network access.
type FakeProvider struct {
	seq atomic.Int64

	mu       sync.Mutex
	err      error
	requests []IntentRequest
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{}
}

// FailWith makes subsequent calls return err; nil restores success.
func (p *FakeProvider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *FakeProvider) Requests() []IntentRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]IntentRequest(nil), p.requests...)
}

func (p *FakeProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)

	id := fmt.Sprintf("pi_fake_%d", p.seq.Add(1))
	return &Intent{ID: id, ClientSecret: id + "_secret"}, nil
}
