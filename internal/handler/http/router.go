package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/metrics"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Health   *HealthHandler
	Auth     *AuthHandler
	Users    *UserHandler
	Catalog  *CatalogHandler
	Address  *AddressHandler
	Cart     *CartHandler
	Orders   *OrderHandler
	Payments *PaymentHandler
}

func NewRouter(logger zerolog.Logger, tokens auth.Verifier, h Handlers) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(hlog.NewHandler(logger))
	router.Use(requestIDLogger)
	router.Use(hlog.AccessHandler(accessLog))
	router.Use(middleware.Recoverer)
	router.Use(metrics.Middleware)

	h.Health.RegisterRoutes(router)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/api", func(api chi.Router) {
		h.Auth.RegisterRoutes(api)
		h.Catalog.RegisterRoutes(api)
		h.Payments.RegisterWebhookRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(auth.Authenticate(tokens, respondWithServiceError))

			h.Users.RegisterRoutes(protected)
			h.Address.RegisterRoutes(protected)
			h.Cart.RegisterRoutes(protected)
			h.Orders.RegisterRoutes(protected)
			h.Payments.RegisterRoutes(protected)

			protected.Group(func(admin chi.Router) {
				admin.Use(auth.RequireAdmin(respondWithServiceError))

				h.Users.RegisterAdminRoutes(admin)
				h.Catalog.RegisterAdminRoutes(admin)
				h.Orders.RegisterAdminRoutes(admin)
			})
		})
	})

	return router
}

func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			logger := zerolog.Ctx(r.Context())
			logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Stringer("url", r.URL).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("Request handled")
}
