package http

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"
	"github.com/vasiliy-maslov/storefront/internal/payment"
)

const maxWebhookBytes = 65536

type CreateIntentRequest struct {
	OrderID int64 `json:"orderId" validate:"required,gt=0"`
}

type ConfirmPaymentRequest struct {
	OrderID         int64  `json:"orderId" validate:"required,gt=0"`
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
}

type IntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type PaymentHandler struct {
	service  payment.Service
	verifier payment.WebhookVerifier
	validate *validator.Validate
}

func NewPaymentHandler(service payment.Service, verifier payment.WebhookVerifier) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		verifier: verifier,
		validate: newValidator(),
	}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/create-intent", h.handleCreateIntent)
	router.Post("/payments/confirm", h.handleConfirm)
}

// RegisterWebhookRoutes mounts the provider callback, which carries no bearer token.
func (h *PaymentHandler) RegisterWebhookRoutes(router chi.Router) {
	router.Post("/payments/webhook", h.handleWebhook)
}

func (h *PaymentHandler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req CreateIntentRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	res, err := h.service.CreatePaymentIntent(r.Context(), p, req.OrderID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, IntentResponse{
		ClientSecret:    res.ClientSecret,
		PaymentIntentID: res.PaymentIntentID,
		Amount:          res.Amount,
		Currency:        res.Currency,
	})
}

func (h *PaymentHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req ConfirmPaymentRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	o, err := h.service.ConfirmPayment(r.Context(), p, req.OrderID, req.PaymentIntentID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newOrderResponse(o))
}

func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusServiceUnavailable, "failed to read request body")
		return
	}

	ev, err := h.verifier.Verify(payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Rejected webhook event")
		respondWithServiceError(w, r, err)
		return
	}

	if err := h.service.HandleWebhookEvent(r.Context(), ev); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}
