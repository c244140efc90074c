package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store   Pinger
	version string
}

func NewHealthHandler(store Pinger, version string) *HealthHandler {
	return &HealthHandler{store: store, version: version}
}

func (h *HealthHandler) RegisterRoutes(router chi.Router) {
	router.Get("/", h.handleWelcome)
	router.Get("/health", h.handleHealth)
}

func (h *HealthHandler) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Storefront API",
		"version": h.version,
		"status":  "running",
	})
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Health check failed")
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}
