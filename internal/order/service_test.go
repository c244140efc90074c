package order_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/address"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/cart"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
	"github.com/vasiliy-maslov/storefront/internal/store/memory"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type fixture struct {
	store  *memory.Store
	carts  cart.Service
	orders order.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	return &fixture{
		store: s,
		carts: cart.NewService(s, s.Carts(), s.Catalog()),
		orders: order.NewService(s, s.Orders(), s.Carts(), s.Catalog(), s.Addresses(),
			outbox.NewWriter(s.Outbox(), "storefront.orders")),
	}
}

func (f *fixture) user(t *testing.T, email string) int64 {
	t.Helper()
	id, err := f.store.Users().Create(context.Background(), &user.User{Email: email, Role: user.RoleUser})
	require.NoError(t, err)
	return id
}

func (f *fixture) address(t *testing.T, userID int64) int64 {
	t.Helper()
	a := &address.Address{UserID: userID, Street: "1 Main St", City: "Springfield", Country: "US", Type: address.TypeShipping}
	require.NoError(t, f.store.Addresses().Create(context.Background(), a))
	return a.ID
}

func (f *fixture) product(t *testing.T, name, price string, stock int) *catalog.Product {
	t.Helper()
	p := &catalog.Product{Name: name, Price: decimal.RequireFromString(price), StockQuantity: stock, IsActive: true}
	require.NoError(t, f.store.Catalog().CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) stock(t *testing.T, id int64) int {
	t.Helper()
	p, err := f.store.Catalog().GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func (f *fixture) cartView(t *testing.T, userID int64) *cart.View {
	t.Helper()
	v, err := f.carts.GetCart(context.Background(), userID)
	require.NoError(t, err)
	return v
}

func (f *fixture) pendingEvents(t *testing.T) []outbox.Envelope {
	t.Helper()
	recs, err := f.store.Outbox().FetchPending(context.Background(), 100)
	require.NoError(t, err)
	out := make([]outbox.Envelope, 0, len(recs))
	for _, r := range recs {
		var env outbox.Envelope
		require.NoError(t, json.Unmarshal(r.Payload, &env))
		out = append(out, env)
	}
	return out
}

func TestService_Checkout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	addr := f.address(t, u)
	p := f.product(t, "P", "10.00", 5)
	q := f.product(t, "Q", "5.50", 3)

	_, err := f.carts.AddToCart(ctx, u, p.ID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddToCart(ctx, u, q.ID, 1)
	require.NoError(t, err)

	o, err := f.orders.Checkout(ctx, u, addr)
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, "25.50", o.TotalAmount.StringFixed(2))
	assert.Nil(t, o.PaymentIntentID)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "10.00", o.Items[0].PriceAtTime.StringFixed(2))
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, "5.50", o.Items[1].PriceAtTime.StringFixed(2))
	require.NotNil(t, o.ShippingAddress)
	assert.Equal(t, addr, o.ShippingAddress.ID)

	assert.Equal(t, 3, f.stock(t, p.ID))
	assert.Equal(t, 2, f.stock(t, q.ID))
	assert.Empty(t, f.cartView(t, u).Lines)

	events := f.pendingEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, outbox.EventOrderCreated, events[0].Type)
}

func TestService_Checkout_PriceCapturedAtCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	addr := f.address(t, u)
	p := f.product(t, "P", "10.00", 5)

	_, err := f.carts.AddToCart(ctx, u, p.ID, 2)
	require.NoError(t, err)
	created, err := f.orders.Checkout(ctx, u, addr)
	require.NoError(t, err)

	p.Price = decimal.RequireFromString("99.00")
	require.NoError(t, f.store.Catalog().UpdateProduct(ctx, p))

	got, err := f.orders.GetOrder(ctx, auth.Principal{UserID: u, Role: user.RoleUser}, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", got.TotalAmount.StringFixed(2))
	assert.Equal(t, "10.00", got.Items[0].PriceAtTime.StringFixed(2))
	assert.True(t, got.TotalAmount.Equal(got.ComputedTotal()))
}

func TestService_Checkout_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, f *fixture, u int64) (addressID int64)
		wantErr  error
		wantKind error
	}{
		{
			name: "empty_cart",
			setup: func(t *testing.T, f *fixture, u int64) int64 {
				return f.address(t, u)
			},
			wantErr:  order.ErrCartEmpty,
			wantKind: apperr.ErrConflict,
		},
		{
			name: "missing_address",
			setup: func(t *testing.T, f *fixture, u int64) int64 {
				p := f.product(t, "P", "1.00", 1)
				_, err := f.carts.AddToCart(context.Background(), u, p.ID, 1)
				require.NoError(t, err)
				return 999
			},
			wantErr:  address.ErrNotFound,
			wantKind: apperr.ErrNotFound,
		},
		{
			name: "foreign_address",
			setup: func(t *testing.T, f *fixture, u int64) int64 {
				p := f.product(t, "P", "1.00", 1)
				_, err := f.carts.AddToCart(context.Background(), u, p.ID, 1)
				require.NoError(t, err)
				return f.address(t, f.user(t, "other@x.com"))
			},
			wantErr:  address.ErrNotOwner,
			wantKind: apperr.ErrForbidden,
		},
		{
			name: "stock_dropped_after_add",
			setup: func(t *testing.T, f *fixture, u int64) int64 {
				ctx := context.Background()
				p := f.product(t, "P", "1.00", 3)
				_, err := f.carts.AddToCart(ctx, u, p.ID, 3)
				require.NoError(t, err)
				require.NoError(t, f.store.Catalog().DecrementStock(ctx, p.ID, 2))
				return f.address(t, u)
			},
			wantErr:  catalog.ErrInsufficientStock,
			wantKind: apperr.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			u := f.user(t, "a@x.com")
			addressID := tt.setup(t, f, u)

			before := f.cartView(t, u)
			products, err := f.store.Catalog().ListActiveProducts(ctx)
			require.NoError(t, err)

			_, err = f.orders.Checkout(ctx, u, addressID)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, apperr.Kind(err))

			after := f.cartView(t, u)
			assert.Equal(t, before.Lines, after.Lines)
			for _, p := range products {
				assert.Equal(t, p.StockQuantity, f.stock(t, p.ID))
			}

			orders, err := f.orders.ListAllOrders(ctx)
			require.NoError(t, err)
			assert.Empty(t, orders)
			assert.Empty(t, f.pendingEvents(t))
		})
	}
}

func TestService_Checkout_NamesFirstOffendingProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	addr := f.address(t, u)
	a := f.product(t, "Alpha", "1.00", 5)
	b := f.product(t, "Beta", "1.00", 5)

	_, err := f.carts.AddToCart(ctx, u, b.ID, 4)
	require.NoError(t, err)
	_, err = f.carts.AddToCart(ctx, u, a.ID, 4)
	require.NoError(t, err)
	require.NoError(t, f.store.Catalog().DecrementStock(ctx, a.ID, 3))
	require.NoError(t, f.store.Catalog().DecrementStock(ctx, b.ID, 3))

	_, err = f.orders.Checkout(ctx, u, addr)
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)
	assert.Contains(t, err.Error(), `"Beta"`)
}

func TestService_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Scarce", "3.00", 5)

	const buyers = 6
	type buyer struct{ user, address int64 }
	list := make([]buyer, buyers)
	for i := range list {
		u := f.user(t, string(rune('a'+i))+"@x.com")
		list[i] = buyer{user: u, address: f.address(t, u)}
		_, err := f.carts.AddToCart(ctx, u, p.ID, 2)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, b := range list {
		wg.Add(1)
		go func(b buyer) {
			defer wg.Done()
			_, _ = f.orders.Checkout(ctx, b.user, b.address)
		}(b)
	}
	wg.Wait()

	orders, err := f.orders.ListAllOrders(ctx)
	require.NoError(t, err)
	sold := 0
	for _, o := range orders {
		for _, it := range o.Items {
			sold += it.Quantity
		}
	}
	assert.Len(t, orders, 2)
	assert.Equal(t, 4, sold)
	assert.Equal(t, 1, f.stock(t, p.ID))
}

func TestService_ConcurrentAddAndCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	addr := f.address(t, u)
	p := f.product(t, "P", "1.00", 4)

	_, err := f.carts.AddToCart(ctx, u, p.ID, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.carts.AddToCart(ctx, u, p.ID, 1)
	}()
	go func() {
		defer wg.Done()
		_, _ = f.orders.Checkout(ctx, u, addr)
	}()
	wg.Wait()

	stock := f.stock(t, p.ID)
	assert.GreaterOrEqual(t, stock, 0)

	orders, err := f.orders.ListOrders(ctx, u)
	require.NoError(t, err)
	sold := 0
	for _, o := range orders {
		for _, it := range o.Items {
			sold += it.Quantity
		}
	}
	assert.Equal(t, 4, stock+sold)
}

func TestService_GetOrder_Access(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "a@x.com")
	other := f.user(t, "b@x.com")
	p := f.product(t, "P", "1.00", 5)
	_, err := f.carts.AddToCart(ctx, owner, p.ID, 1)
	require.NoError(t, err)
	o, err := f.orders.Checkout(ctx, owner, f.address(t, owner))
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, auth.Principal{UserID: owner, Role: user.RoleUser}, o.ID)
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, auth.Principal{UserID: other, Role: user.RoleUser}, o.ID)
	require.ErrorIs(t, err, order.ErrForbidden)

	_, err = f.orders.GetOrder(ctx, auth.Principal{UserID: other, Role: user.RoleAdmin}, o.ID)
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, auth.Principal{UserID: owner, Role: user.RoleUser}, 999)
	require.ErrorIs(t, err, order.ErrNotFound)

	mine, err := f.orders.ListOrders(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestService_UpdateOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	p := f.product(t, "P", "1.00", 5)
	_, err := f.carts.AddToCart(ctx, u, p.ID, 1)
	require.NoError(t, err)
	o, err := f.orders.Checkout(ctx, u, f.address(t, u))
	require.NoError(t, err)

	_, err = f.orders.UpdateOrderStatus(ctx, o.ID, order.StatusPaid)
	require.ErrorIs(t, err, order.ErrInvalidStatusTransition)

	_, err = f.orders.UpdateOrderStatus(ctx, o.ID, order.Status("LOST"))
	require.ErrorIs(t, err, order.ErrUnknownStatus)

	updated, err := f.orders.UpdateOrderStatus(ctx, o.ID, order.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, updated.Status)

	again, err := f.orders.UpdateOrderStatus(ctx, o.ID, order.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, again.Status)

	// Cancelling does not restock.
	assert.Equal(t, 4, f.stock(t, p.ID))

	types := []string{}
	for _, e := range f.pendingEvents(t) {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{outbox.EventOrderCreated, outbox.EventOrderStatusChanged}, types)

	_, err = f.orders.UpdateOrderStatus(ctx, 999, order.StatusCancelled)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestService_ListOrders_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	addr := f.address(t, u)
	p := f.product(t, "P", "1.00", 5)

	var ids []int64
	for i := 0; i < 2; i++ {
		_, err := f.carts.AddToCart(ctx, u, p.ID, 1)
		require.NoError(t, err)
		o, err := f.orders.Checkout(ctx, u, addr)
		require.NoError(t, err)
		ids = append(ids, o.ID)
		time.Sleep(time.Millisecond)
	}

	orders, err := f.orders.ListOrders(ctx, u)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, ids[1], orders[0].ID)
	assert.Equal(t, ids[0], orders[1].ID)
}
