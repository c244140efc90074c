package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

func TestStore_WithinTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &catalog.Product{Name: "Lamp", Price: decimal.NewFromInt(10), StockQuantity: 5, IsActive: true}
	require.NoError(t, s.Catalog().CreateProduct(ctx, p))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Catalog().DecrementStock(ctx, p.ID, 3))
		_, err := s.Users().Create(ctx, &user.User{Email: "a@x.com", Role: user.RoleUser})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Catalog().GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)

	users, err := s.Users().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestStore_WithinTx_RollsBackOnPanic(t *testing.T) {
	s := New()
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.WithinTx(ctx, func(ctx context.Context) error {
			_, _ = s.Users().Create(ctx, &user.User{Email: "a@x.com"})
			panic("kaboom")
		})
	})

	users, err := s.Users().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	// The lock must have been released.
	_, err = s.Users().Create(ctx, &user.User{Email: "b@x.com"})
	require.NoError(t, err)
}

func TestStore_NestedTxJoinsOuter(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		return s.WithinTx(ctx, func(ctx context.Context) error {
			_, err := s.Users().Create(ctx, &user.User{Email: "a@x.com"})
			return err
		})
	})
	require.NoError(t, err)

	_, err = s.Users().GetByEmail(ctx, "A@X.com")
	require.NoError(t, err)
}

func TestStore_DecrementStockNeverNegative(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &catalog.Product{Name: "Lamp", Price: decimal.NewFromInt(10), StockQuantity: 2, IsActive: true}
	require.NoError(t, s.Catalog().CreateProduct(ctx, p))

	err := s.Catalog().DecrementStock(ctx, p.ID, 3)
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)

	got, err := s.Catalog().GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.StockQuantity)
}

func TestStore_UserEmailUnique(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Users().Create(ctx, &user.User{Email: "a@x.com"})
	require.NoError(t, err)
	_, err = s.Users().Create(ctx, &user.User{Email: "A@x.com "})
	require.ErrorIs(t, err, user.ErrEmailExists)
}

func TestCatalogRepo_SearchAndCategories(t *testing.T) {
	s := New()
	ctx := context.Background()
	repo := s.Catalog()

	root := &catalog.Category{Name: "Home"}
	require.NoError(t, repo.CreateCategory(ctx, root))
	child := &catalog.Category{Name: "Kitchen", ParentID: &root.ID}
	require.NoError(t, repo.CreateCategory(ctx, child))
	require.ErrorIs(t, repo.CreateCategory(ctx, &catalog.Category{Name: "home"}), catalog.ErrCategoryExists)

	mug := &catalog.Product{Name: "Coffee Mug", Price: decimal.NewFromInt(8), IsActive: true, CategoryID: &child.ID}
	old := &catalog.Product{Name: "Old Mug", Price: decimal.NewFromInt(2), IsActive: true}
	require.NoError(t, repo.CreateProduct(ctx, mug))
	require.NoError(t, repo.CreateProduct(ctx, old))
	require.NoError(t, repo.SetProductActive(ctx, old.ID, false))

	found, err := repo.SearchActiveProducts(ctx, "MUG")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Kitchen", found[0].CategoryName)

	top, err := repo.ListTopCategories(ctx)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Home", top[0].Name)

	subs, err := repo.ListSubcategories(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, child.ID, subs[0].ID)

	byCategory, err := repo.ListActiveProductsByCategory(ctx, child.ID)
	require.NoError(t, err)
	assert.Len(t, byCategory, 1)
}
