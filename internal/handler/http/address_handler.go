package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/storefront/internal/address"
)

type CreateAddressRequest struct {
	Street     string       `json:"street" validate:"required"`
	City       string       `json:"city" validate:"required"`
	State      string       `json:"state"`
	PostalCode string       `json:"postalCode" validate:"required"`
	Country    string       `json:"country" validate:"required"`
	IsDefault  bool         `json:"isDefault"`
	Type       address.Type `json:"type" validate:"omitempty,oneof=SHIPPING BILLING"`
}

type AddressHandler struct {
	service  address.Service
	validate *validator.Validate
}

func NewAddressHandler(service address.Service) *AddressHandler {
	return &AddressHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *AddressHandler) RegisterRoutes(router chi.Router) {
	router.Get("/addresses", h.handleListAddresses)
	router.Post("/addresses", h.handleCreateAddress)
	router.Get("/addresses/{id}", h.handleGetAddress)
}

func (h *AddressHandler) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	addresses, err := h.service.ListAddresses(r.Context(), p.UserID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	resp := make([]AddressResponse, 0, len(addresses))
	for i := range addresses {
		resp = append(resp, newAddressResponse(&addresses[i]))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *AddressHandler) handleCreateAddress(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req CreateAddressRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	a, err := h.service.CreateAddress(r.Context(), p.UserID, address.CreateInput{
		Street:     req.Street,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
		IsDefault:  req.IsDefault,
		Type:       req.Type,
	})
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newAddressResponse(a))
}

func (h *AddressHandler) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	a, err := h.service.GetOwnedAddress(r.Context(), p.UserID, id)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newAddressResponse(a))
}
