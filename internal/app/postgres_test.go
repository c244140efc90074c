package app_test

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/address"
	"github.com/vasiliy-maslov/storefront/internal/app"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/config"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openTestDB connects to the database named by the DB_*_TEST variables and
// applies migrations. Tests are skipped when DB_HOST_TEST is not set.
func openTestDB(t *testing.T) *db.Postgres {
	t.Helper()
	if os.Getenv("DB_HOST_TEST") == "" {
		t.Skip("DB_HOST_TEST not set, skipping postgres integration test")
	}

	cfg := config.PostgresConfig{
		Host:            os.Getenv("DB_HOST_TEST"),
		Port:            envOr("DB_PORT_TEST", "5432"),
		User:            envOr("DB_USER_TEST", "postgres"),
		Password:        envOr("DB_PASSWORD_TEST", "postgres"),
		DBName:          envOr("DB_NAME_TEST", "storefront_test"),
		SSLMode:         envOr("DB_SSLMODE_TEST", "disable"),
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Minute,
		MigrationsPath:  "../../migrations",
	}
	require.NoError(t, db.MigrateUp(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := db.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	_, err = pg.Pool.Exec(context.Background(),
		"TRUNCATE outbox, order_items, orders, cart_items, carts, products, categories, addresses, users RESTART IDENTITY CASCADE")
	require.NoError(t, err, "failed to truncate tables")

	log.Logger = zerolog.Nop()
	return pg
}

type pgFixture struct {
	pg       *db.Postgres
	app      *app.App
	provider *payment.FakeProvider
}

func newPGFixture(t *testing.T) *pgFixture {
	pg := openTestDB(t)
	provider := payment.NewFakeProvider()
	a := app.New(app.PostgresStorage(pg), app.Options{
		Logger:   zerolog.Nop(),
		Tokens:   auth.NewTokenManager("secret", time.Hour),
		Provider: provider,
		Verifier: payment.UnverifiedParser{},
		Currency: "usd",
		Topic:    "storefront.orders",
	})
	return &pgFixture{pg: pg, app: a, provider: provider}
}

func (f *pgFixture) buyer(t *testing.T, email string) (auth.Principal, *address.Address) {
	t.Helper()
	ctx := context.Background()
	u, err := f.app.Services.Users.Register(ctx, user.RegisterInput{Email: email, Password: "secret1", FirstName: "A", LastName: "B"})
	require.NoError(t, err)
	addr, err := f.app.Services.Addresses.CreateAddress(ctx, u.ID, address.CreateInput{
		Street: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US", IsDefault: true,
	})
	require.NoError(t, err)
	return auth.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}, addr
}

func (f *pgFixture) product(t *testing.T, name, price string, stock int, categoryID *int64) *catalog.Product {
	t.Helper()
	p, err := f.app.Services.Catalog.CreateProduct(context.Background(), catalog.ProductInput{
		Name: name, Price: decimal.RequireFromString(price), StockQuantity: stock, CategoryID: categoryID,
	})
	require.NoError(t, err)
	return p
}

func TestPostgres_CheckoutAndPayment(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	svc := f.app.Services

	var categoryID int64
	require.NoError(t, f.pg.Pool.QueryRow(ctx,
		"INSERT INTO categories (name) VALUES ('Tools') RETURNING id").Scan(&categoryID))

	p := f.product(t, "Hammer", "10.00", 5, &categoryID)
	q := f.product(t, "Nails 100% steel", "5.50", 3, nil)
	buyer, addr := f.buyer(t, "buyer@x.com")

	view, err := svc.Carts.AddToCart(ctx, buyer.UserID, p.ID, 3)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(view.TotalAmount), view.TotalAmount.String())

	_, err = svc.Carts.AddToCart(ctx, buyer.UserID, p.ID, 3)
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)

	view, err = svc.Carts.UpdateCartItem(ctx, buyer.UserID, view.Lines[0].ID, 2)
	require.NoError(t, err)
	_, err = svc.Carts.AddToCart(ctx, buyer.UserID, q.ID, 1)
	require.NoError(t, err)

	o, err := svc.Orders.Checkout(ctx, buyer.UserID, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("25.50").Equal(o.TotalAmount))

	stored, err := svc.Orders.GetOrder(ctx, buyer, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.True(t, stored.ComputedTotal().Equal(stored.TotalAmount))
	require.NotNil(t, stored.ShippingAddress)
	assert.Equal(t, addr.ID, stored.ShippingAddress.ID)

	reloaded, err := svc.Catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.StockQuantity)
	assert.Equal(t, "Tools", reloaded.CategoryName)

	cart, err := svc.Carts.GetCart(ctx, buyer.UserID)
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)

	found, err := svc.Catalog.SearchProducts(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, q.ID, found[0].ID)

	intent, err := svc.Payments.CreatePaymentIntent(ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2550), intent.Amount)

	ev := &payment.Event{
		Type:     payment.EventIntentSucceeded,
		IntentID: intent.PaymentIntentID,
		Metadata: map[string]string{"orderId": strconv.FormatInt(o.ID, 10)},
	}
	require.NoError(t, svc.Payments.HandleWebhookEvent(ctx, ev))
	require.NoError(t, svc.Payments.HandleWebhookEvent(ctx, ev))

	other := *ev
	other.IntentID = "pi_other"
	require.ErrorIs(t, svc.Payments.HandleWebhookEvent(ctx, &other), order.ErrPaymentMismatch)

	paid, err := svc.Orders.GetOrder(ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, paid.Status)
	require.NotNil(t, paid.PaymentIntentID)
	assert.Equal(t, intent.PaymentIntentID, *paid.PaymentIntentID)

	pub := &recordingPublisher{}
	sent, err := f.app.Relay(pub, time.Second).Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent, "order.created and a single order.paid")
	assert.ElementsMatch(t, []string{outbox.EventOrderCreated, outbox.EventOrderPaid}, pub.types(t))

	sent, err = f.app.Relay(pub, time.Second).Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestPostgres_ConcurrentCheckoutsDoNotOversell(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	svc := f.app.Services

	p := f.product(t, "Last units", "1.00", 3, nil)

	const buyers = 5
	type job struct {
		userID, addressID int64
	}
	jobs := make([]job, 0, buyers)
	for i := range buyers {
		b, addr := f.buyer(t, "b"+strconv.Itoa(i)+"@x.com")
		_, err := svc.Carts.AddToCart(ctx, b.UserID, p.ID, 1)
		require.NoError(t, err)
		jobs = append(jobs, job{b.UserID, addr.ID})
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Orders.Checkout(ctx, j.userID, j.addressID)
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, created)
	reloaded, err := svc.Catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.StockQuantity)
}

func TestPostgres_ConcurrentAddToCart(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	svc := f.app.Services

	p := f.product(t, "Desk", "120.00", 5, nil)
	b, _ := f.buyer(t, "same@x.com")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Carts.AddToCart(ctx, b.UserID, p.ID, 3)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	cart, err := svc.Carts.GetCart(ctx, b.UserID)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 3, cart.Lines[0].Quantity)

	reloaded, err := svc.Catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.StockQuantity, "carts do not reserve stock")
}

func TestPostgres_FailedCheckoutLeavesNoTrace(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	svc := f.app.Services

	p := f.product(t, "Chair", "40.00", 5, nil)
	q := f.product(t, "Lamp", "15.00", 3, nil)
	b, addr := f.buyer(t, "rollback@x.com")

	_, err := svc.Carts.AddToCart(ctx, b.UserID, p.ID, 2)
	require.NoError(t, err)
	_, err = svc.Carts.AddToCart(ctx, b.UserID, q.ID, 2)
	require.NoError(t, err)

	_, err = f.pg.Pool.Exec(ctx, "UPDATE products SET stock_quantity = 1 WHERE id = $1", q.ID)
	require.NoError(t, err)

	_, err = svc.Orders.Checkout(ctx, b.UserID, addr.ID)
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)

	reloaded, err := svc.Catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.StockQuantity)

	cart, err := svc.Carts.GetCart(ctx, b.UserID)
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 2)

	var orders, events int
	require.NoError(t, f.pg.Pool.QueryRow(ctx, "SELECT count(*) FROM orders").Scan(&orders))
	require.NoError(t, f.pg.Pool.QueryRow(ctx, "SELECT count(*) FROM outbox").Scan(&events))
	assert.Zero(t, orders)
	assert.Zero(t, events)
}

func TestPostgres_IntentReusedAcrossOrders(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	svc := f.app.Services

	p := f.product(t, "Mug", "8.00", 10, nil)
	b, addr := f.buyer(t, "reuse@x.com")

	var ids []int64
	for range 2 {
		_, err := svc.Carts.AddToCart(ctx, b.UserID, p.ID, 1)
		require.NoError(t, err)
		o, err := svc.Orders.Checkout(ctx, b.UserID, addr.ID)
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	_, err := svc.Payments.ConfirmPayment(ctx, b, ids[0], "pi_same")
	require.NoError(t, err)

	_, err = svc.Payments.ConfirmPayment(ctx, b, ids[1], "pi_same")
	require.ErrorIs(t, err, order.ErrPaymentMismatch)

	second, err := svc.Orders.GetOrder(ctx, b, ids[1])
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, second.Status)
	assert.Nil(t, second.PaymentIntentID)
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *recordingPublisher) Publish(_ context.Context, records []outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.payloads = append(r.payloads, rec.Payload)
	}
	return nil
}

func (r *recordingPublisher) types(t *testing.T) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.payloads))
	for _, p := range r.payloads {
		var env outbox.Envelope
		require.NoError(t, json.Unmarshal(p, &env))
		out = append(out, env.Type)
	}
	return out
}
