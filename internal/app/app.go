// Package app assembles repositories, services and the HTTP router.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/vasiliy-maslov/storefront/internal/address"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/cart"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/store/memory"
	"github.com/vasiliy-maslov/storefront/internal/user"

	handler "github.com/vasiliy-maslov/storefront/internal/handler/http"
)

// Storage is one backing store seen through every repository interface.
type Storage struct {
	Tx        db.Transactor
	Pinger    handler.Pinger
	Users     user.Repository
	Addresses address.Repository
	Products  catalog.Repository
	Reader    catalog.Reader
	Carts     cart.Repository
	Orders    order.Repository
	Outbox    outbox.Repository
}

func PostgresStorage(pg *db.Postgres) Storage {
	return Storage{
		Tx:        pg,
		Pinger:    pg,
		Users:     user.NewRepository(pg.Pool),
		Addresses: address.NewRepository(pg.Pool),
		Products:  catalog.NewRepository(pg.Pool),
		Reader:    catalog.NewReader(pg.SQLX()),
		Carts:     cart.NewRepository(pg.Pool),
		Orders:    order.NewRepository(pg.Pool),
		Outbox:    outbox.NewRepository(pg.Pool),
	}
}

func MemoryStorage(s *memory.Store) Storage {
	return Storage{
		Tx:        s,
		Pinger:    s,
		Users:     s.Users(),
		Addresses: s.Addresses(),
		Products:  s.Catalog(),
		Reader:    s.Catalog(),
		Carts:     s.Carts(),
		Orders:    s.Orders(),
		Outbox:    s.Outbox(),
	}
}

type Options struct {
	Logger   zerolog.Logger
	Tokens   *auth.TokenManager
	Provider payment.Provider
	Verifier payment.WebhookVerifier
	Currency string
	Topic    string
	Version  string
}

type Services struct {
	Users     user.Service
	Addresses address.Service
	Catalog   catalog.Service
	Carts     cart.Service
	Orders    order.Service
	Payments  payment.Service
}

type App struct {
	Services Services
	Router   http.Handler
	storage  Storage
}

func New(st Storage, opts Options) *App {
	events := outbox.NewWriter(st.Outbox, opts.Topic)

	carts := cart.NewService(st.Tx, st.Carts, st.Products)
	svc := Services{
		Users:     user.NewService(st.Tx, st.Users, carts),
		Addresses: address.NewService(st.Tx, st.Addresses),
		Catalog:   catalog.NewService(st.Tx, st.Products, st.Reader),
		Carts:     carts,
		Orders:    order.NewService(st.Tx, st.Orders, st.Carts, st.Products, st.Addresses, events),
		Payments:  payment.NewService(st.Tx, st.Orders, opts.Provider, events, opts.Currency),
	}

	router := handler.NewRouter(opts.Logger, opts.Tokens, handler.Handlers{
		Health:   handler.NewHealthHandler(st.Pinger, opts.Version),
		Auth:     handler.NewAuthHandler(svc.Users, opts.Tokens),
		Users:    handler.NewUserHandler(svc.Users),
		Catalog:  handler.NewCatalogHandler(svc.Catalog),
		Address:  handler.NewAddressHandler(svc.Addresses),
		Cart:     handler.NewCartHandler(svc.Carts),
		Orders:   handler.NewOrderHandler(svc.Orders),
		Payments: handler.NewPaymentHandler(svc.Payments, opts.Verifier),
	})

	return &App{Services: svc, Router: router, storage: st}
}

// Relay returns the outbox worker for this app's storage.
func (a *App) Relay(pub outbox.Publisher, interval time.Duration) *outbox.Relay {
	return outbox.NewRelay(a.storage.Tx, a.storage.Outbox, pub, interval)
}

func (a *App) Ping(ctx context.Context) error {
	return a.storage.Pinger.Ping(ctx)
}
