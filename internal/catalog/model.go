package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable catalog entry. Stock only moves at checkout.
type Product struct {
	ID            int64           `db:"id"`
	Name          string          `db:"name"`
	Description   string          `db:"description"`
	Price         decimal.Decimal `db:"price"`
	StockQuantity int             `db:"stock_quantity"`
	ImageURL      string          `db:"image_url"`
	CategoryID    *int64          `db:"category_id"`
	CategoryName  string          `db:"category_name"`
	IsActive      bool            `db:"is_active"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

type Category struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	ImageURL    string `db:"image_url"`
	ParentID    *int64 `db:"parent_id"`
}

// ProductInput carries the admin-editable fields of a product.
type ProductInput struct {
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
	ImageURL      string
	CategoryID    *int64
}
