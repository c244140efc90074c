package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

var (
	ErrItemNotFound    = apperr.New(apperr.ErrNotFound, "cart item not found")
	ErrItemNotOwned    = apperr.New(apperr.ErrForbidden, "cart item belongs to another user")
	ErrInvalidQuantity = apperr.New(apperr.ErrBadRequest, "quantity must be at least 1")
)

type Repository interface {
	// GetOrCreate returns the cart of userID, creating it when missing.
	GetOrCreate(ctx context.Context, userID int64) (*Cart, error)
	// GetOrCreateForUpdate is GetOrCreate holding a row lock on the cart
	// until the surrounding transaction ends.
	GetOrCreateForUpdate(ctx context.Context, userID int64) (*Cart, error)
	ListLines(ctx context.Context, cartID int64) ([]Line, error)
	GetItem(ctx context.Context, itemID int64) (*Item, error)
	// FindItem returns ErrItemNotFound when the cart has no line for productID.
	FindItem(ctx context.Context, cartID, productID int64) (*Item, error)
	InsertItem(ctx context.Context, item *Item) error
	UpdateItemQuantity(ctx context.Context, itemID int64, qty int) error
	DeleteItem(ctx context.Context, itemID int64) error
	ClearItems(ctx context.Context, cartID int64) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) GetOrCreate(ctx context.Context, userID int64) (*Cart, error) {
	return r.getOrCreate(ctx, userID, "")
}

func (r *postgresRepository) GetOrCreateForUpdate(ctx context.Context, userID int64) (*Cart, error) {
	return r.getOrCreate(ctx, userID, " FOR UPDATE")
}

func (r *postgresRepository) getOrCreate(ctx context.Context, userID int64, lock string) (*Cart, error) {
	q := db.Conn(ctx, r.pool)

	// Корзина могла уже появиться в параллельной транзакции
	insert := `INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	if _, err := q.Exec(ctx, insert, userID); err != nil {
		return nil, fmt.Errorf("repository: failed to create cart for user %d: %w", userID, err)
	}

	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1` + lock

	var c Cart
	if err := q.QueryRow(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("repository: failed to select cart of user %d: %w", userID, err)
	}
	return &c, nil
}

func (r *postgresRepository) ListLines(ctx context.Context, cartID int64) ([]Line, error) {
	query := `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity,
		       p.id, p.name, p.description, p.price, p.stock_quantity, p.image_url,
		       p.category_id, p.is_active, p.created_at, p.updated_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id
	`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to select lines of cart %d: %w", cartID, err)
	}
	defer rows.Close()

	lines := []Line{}
	for rows.Next() {
		var l Line
		err := rows.Scan(
			&l.ID, &l.CartID, &l.ProductID, &l.Quantity,
			&l.Product.ID, &l.Product.Name, &l.Product.Description, &l.Product.Price,
			&l.Product.StockQuantity, &l.Product.ImageURL, &l.Product.CategoryID,
			&l.Product.IsActive, &l.Product.CreatedAt, &l.Product.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate cart lines: %w", err)
	}
	return lines, nil
}

func (r *postgresRepository) scanItem(ctx context.Context, query string, args ...any) (*Item, error) {
	var it Item
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart item: %w", err)
	}
	return &it, nil
}

func (r *postgresRepository) GetItem(ctx context.Context, itemID int64) (*Item, error) {
	return r.scanItem(ctx, `SELECT id, cart_id, product_id, quantity FROM cart_items WHERE id = $1`, itemID)
}

func (r *postgresRepository) FindItem(ctx context.Context, cartID, productID int64) (*Item, error) {
	query := `SELECT id, cart_id, product_id, quantity FROM cart_items WHERE cart_id = $1 AND product_id = $2`
	return r.scanItem(ctx, query, cartID, productID)
}

func (r *postgresRepository) InsertItem(ctx context.Context, item *Item) error {
	query := `INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3) RETURNING id`

	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, item.CartID, item.ProductID, item.Quantity).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to insert cart item: %w", err)
	}
	return r.touch(ctx, item.CartID)
}

func (r *postgresRepository) UpdateItemQuantity(ctx context.Context, itemID int64, qty int) error {
	var cartID int64
	query := `UPDATE cart_items SET quantity = $2 WHERE id = $1 RETURNING cart_id`

	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, itemID, qty).Scan(&cartID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrItemNotFound
		}
		return fmt.Errorf("repository: failed to update cart item %d: %w", itemID, err)
	}
	return r.touch(ctx, cartID)
}

func (r *postgresRepository) DeleteItem(ctx context.Context, itemID int64) error {
	var cartID int64
	query := `DELETE FROM cart_items WHERE id = $1 RETURNING cart_id`

	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, itemID).Scan(&cartID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrItemNotFound
		}
		return fmt.Errorf("repository: failed to delete cart item %d: %w", itemID, err)
	}
	return r.touch(ctx, cartID)
}

func (r *postgresRepository) ClearItems(ctx context.Context, cartID int64) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("repository: failed to clear cart %d: %w", cartID, err)
	}
	return r.touch(ctx, cartID)
}

func (r *postgresRepository) touch(ctx context.Context, cartID int64) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("repository: failed to touch cart %d: %w", cartID, err)
	}
	return nil
}
