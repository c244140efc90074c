package cart

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
)

// Cart is the single shopping cart of a user. It is never deleted.
type Cart struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Item is one (cart, product) line. Quantity is always at least one.
type Item struct {
	ID        int64 `db:"id"`
	CartID    int64 `db:"cart_id"`
	ProductID int64 `db:"product_id"`
	Quantity  int   `db:"quantity"`
}

// Line is an item together with the live state of its product.
type Line struct {
	Item
	Product catalog.Product
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// View is the priced projection of a cart, computed from current prices.
type View struct {
	ID          int64
	Lines       []Line
	TotalAmount decimal.Decimal
	TotalItems  int
}

func NewView(cartID int64, lines []Line) *View {
	v := &View{ID: cartID, Lines: lines, TotalAmount: decimal.Zero}
	if v.Lines == nil {
		v.Lines = []Line{}
	}
	for _, l := range v.Lines {
		v.TotalAmount = v.TotalAmount.Add(l.Subtotal())
		v.TotalItems += l.Quantity
	}
	return v
}
