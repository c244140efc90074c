package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Product), args.Error(1)
}

func (m *MockRepository) GetProductForShare(ctx context.Context, id int64) (*Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Product), args.Error(1)
}

func (m *MockRepository) LockProducts(ctx context.Context, ids []int64) (map[int64]*Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]*Product), args.Error(1)
}

func (m *MockRepository) DecrementStock(ctx context.Context, id int64, qty int) error {
	return m.Called(ctx, id, qty).Error(0)
}

func (m *MockRepository) CreateProduct(ctx context.Context, p *Product) error {
	args := m.Called(ctx, p)
	if args.Error(0) == nil {
		p.ID = 100
	}
	return args.Error(0)
}

func (m *MockRepository) UpdateProduct(ctx context.Context, p *Product) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockRepository) SetProductActive(ctx context.Context, id int64, active bool) error {
	return m.Called(ctx, id, active).Error(0)
}

func (m *MockRepository) GetCategory(ctx context.Context, id int64) (*Category, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Category), args.Error(1)
}

type MockReader struct {
	mock.Mock
}

func (m *MockReader) ListActiveProducts(ctx context.Context) ([]Product, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Product), args.Error(1)
}

func (m *MockReader) ListActiveProductsByCategory(ctx context.Context, categoryID int64) ([]Product, error) {
	args := m.Called(ctx, categoryID)
	return args.Get(0).([]Product), args.Error(1)
}

func (m *MockReader) SearchActiveProducts(ctx context.Context, query string) ([]Product, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]Product), args.Error(1)
}

func (m *MockReader) ListCategories(ctx context.Context) ([]Category, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Category), args.Error(1)
}

func (m *MockReader) ListTopCategories(ctx context.Context) ([]Category, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Category), args.Error(1)
}

func (m *MockReader) ListSubcategories(ctx context.Context, parentID int64) ([]Category, error) {
	args := m.Called(ctx, parentID)
	return args.Get(0).([]Category), args.Error(1)
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func int64Ptr(v int64) *int64 { return &v }

func TestService_CreateProduct(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(passthroughTx{}, repo, new(MockReader))
	ctx := context.Background()

	repo.On("GetCategory", ctx, int64(3)).Return(&Category{ID: 3, Name: "Books"}, nil).Once()
	repo.On("CreateProduct", ctx, mock.AnythingOfType("*catalog.Product")).Return(nil).Once()

	p, err := svc.CreateProduct(ctx, ProductInput{
		Name:          "  Go in Action ",
		Price:         decimal.RequireFromString("39.999"),
		StockQuantity: 4,
		CategoryID:    int64Ptr(3),
	})
	require.NoError(t, err)

	want := &Product{
		ID:            100,
		Name:          "Go in Action",
		Price:         decimal.RequireFromString("40.00"),
		StockQuantity: 4,
		CategoryID:    int64Ptr(3),
		CategoryName:  "Books",
		IsActive:      true,
	}
	if diff := cmp.Diff(want, p, cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("CreateProduct() mismatch (-want +got):\n%s", diff)
	}
	repo.AssertExpectations(t)
}

func TestService_CreateProduct_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input ProductInput
	}{
		{name: "empty_name", input: ProductInput{Name: " ", Price: decimal.NewFromInt(1)}},
		{name: "zero_price", input: ProductInput{Name: "x", Price: decimal.Zero}},
		{name: "negative_stock", input: ProductInput{Name: "x", Price: decimal.NewFromInt(1), StockQuantity: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			svc := NewService(passthroughTx{}, repo, new(MockReader))

			_, err := svc.CreateProduct(context.Background(), tt.input)

			require.ErrorIs(t, err, ErrInvalidProduct)
			assert.Equal(t, apperr.ErrBadRequest, apperr.Kind(err))
			repo.AssertNotCalled(t, "CreateProduct", mock.Anything, mock.Anything)
		})
	}
}

func TestService_CreateProduct_UnknownCategory(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(passthroughTx{}, repo, new(MockReader))
	ctx := context.Background()

	repo.On("GetCategory", ctx, int64(9)).Return(nil, ErrCategoryNotFound).Once()

	_, err := svc.CreateProduct(ctx, ProductInput{Name: "x", Price: decimal.NewFromInt(1), CategoryID: int64Ptr(9)})

	require.ErrorIs(t, err, ErrCategoryNotFound)
	repo.AssertNotCalled(t, "CreateProduct", mock.Anything, mock.Anything)
}

func TestService_UpdateProduct_KeepsCategoryWhenOmitted(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(passthroughTx{}, repo, new(MockReader))
	ctx := context.Background()

	existing := &Product{ID: 5, Name: "old", Price: decimal.NewFromInt(1), CategoryID: int64Ptr(2), IsActive: true}
	repo.On("GetProduct", ctx, int64(5)).Return(existing, nil).Once()
	repo.On("GetCategory", ctx, int64(2)).Return(&Category{ID: 2, Name: "Toys"}, nil).Once()
	repo.On("UpdateProduct", ctx, existing).Return(nil).Once()

	p, err := svc.UpdateProduct(ctx, 5, ProductInput{Name: "new", Price: decimal.NewFromInt(7), StockQuantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "new", p.Name)
	assert.Equal(t, int64(2), *p.CategoryID)
	assert.Equal(t, "Toys", p.CategoryName)
	repo.AssertExpectations(t)
}

func TestService_DeleteProduct(t *testing.T) {
	tests := []struct {
		name        string
		repoErr     error
		expectedErr error
	}{
		{name: "success"},
		{name: "not_found", repoErr: ErrProductNotFound, expectedErr: ErrProductNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			svc := NewService(passthroughTx{}, repo, new(MockReader))
			ctx := context.Background()

			repo.On("SetProductActive", ctx, int64(1), false).Return(tt.repoErr).Once()

			err := svc.DeleteProduct(ctx, 1)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestService_SearchProducts(t *testing.T) {
	reader := new(MockReader)
	svc := NewService(passthroughTx{}, new(MockRepository), reader)
	ctx := context.Background()

	products, err := svc.SearchProducts(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, products)

	reader.On("SearchActiveProducts", ctx, "mug").Return([]Product{{ID: 1, Name: "Coffee Mug"}}, nil).Once()
	products, err = svc.SearchProducts(ctx, " mug ")
	require.NoError(t, err)
	assert.Len(t, products, 1)

	reader.On("SearchActiveProducts", ctx, "boom").Return([]Product(nil), errors.New("db down")).Once()
	_, err = svc.SearchProducts(ctx, "boom")
	require.Error(t, err)
	reader.AssertExpectations(t)
}

func TestService_ListSubcategories_UnknownParent(t *testing.T) {
	repo := new(MockRepository)
	reader := new(MockReader)
	svc := NewService(passthroughTx{}, repo, reader)
	ctx := context.Background()

	repo.On("GetCategory", ctx, int64(8)).Return(nil, ErrCategoryNotFound).Once()

	_, err := svc.ListSubcategories(ctx, 8)
	require.ErrorIs(t, err, ErrCategoryNotFound)
	reader.AssertNotCalled(t, "ListSubcategories", mock.Anything, mock.Anything)
}

func TestEscapeLikeAndMatchesName(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
	assert.True(t, MatchesName("Coffee Mug", "MUG"))
	assert.False(t, MatchesName("Coffee Mug", "tea"))
}
