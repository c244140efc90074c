package catalog

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
	ErrProductNotFound   = apperr.New(apperr.ErrNotFound, "product not found")
	ErrProductInactive   = apperr.New(apperr.ErrNotFound, "product is no longer available")
	ErrCategoryNotFound  = apperr.New(apperr.ErrNotFound, "category not found")
	ErrCategoryExists    = apperr.New(apperr.ErrConflict, "category name already exists")
	ErrInsufficientStock = apperr.New(apperr.ErrConflict, "insufficient stock")
	ErrInvalidProduct    = apperr.New(apperr.ErrBadRequest, "invalid product")
)

// Repository is the write side of the catalog plus the locking reads used
// by the cart and checkout paths.
type Repository interface {
	GetProduct(ctx context.Context, id int64) (*Product, error)
	// GetProductForShare reads a product under a shared row lock.
	GetProductForShare(ctx context.Context, id int64) (*Product, error)
	// LockProducts locks the given products for update in ascending id order.
	// Missing ids are absent from the result.
	LockProducts(ctx context.Context, ids []int64) (map[int64]*Product, error)
	// DecrementStock returns ErrInsufficientStock instead of going below zero.
	DecrementStock(ctx context.Context, id int64, qty int) error
	CreateProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p *Product) error
	SetProductActive(ctx context.Context, id int64, active bool) error
	GetCategory(ctx context.Context, id int64) (*Category, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const productSelect = `
	SELECT p.id, p.name, p.description, p.price, p.stock_quantity, p.image_url,
	       p.category_id, COALESCE(c.name, '') AS category_name, p.is_active, p.created_at, p.updated_at
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id
`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.StockQuantity,
		&p.ImageURL,
		&p.CategoryID,
		&p.CategoryName,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) getProduct(ctx context.Context, query string, id int64) (*Product, error) {
	p, err := scanProduct(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %d: %w", id, err)
	}
	return p, nil
}

func (r *postgresRepository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return r.getProduct(ctx, productSelect+`WHERE p.id = $1`, id)
}

func (r *postgresRepository) GetProductForShare(ctx context.Context, id int64) (*Product, error) {
	return r.getProduct(ctx, productSelect+`WHERE p.id = $1 FOR SHARE OF p`, id)
}

func (r *postgresRepository) LockProducts(ctx context.Context, ids []int64) (map[int64]*Product, error) {
	// Блокируем в порядке id, чтобы параллельные оформления не ловили дедлок
	query := productSelect + `WHERE p.id = ANY($1) ORDER BY p.id FOR UPDATE OF p`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to lock products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]*Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan locked product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate locked products: %w", err)
	}

	return products, nil
}

func (r *postgresRepository) DecrementStock(ctx context.Context, id int64, qty int) error {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND stock_quantity >= $2 -- остаток не уходит в минус
	`

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, id, qty)
	if err != nil {
		return fmt.Errorf("repository: failed to decrement stock of product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w for product %d", ErrInsufficientStock, id)
	}
	return nil
}

func (r *postgresRepository) CreateProduct(ctx context.Context, p *Product) error {
	query := `
		INSERT INTO products (name, description, price, stock_quantity, image_url, category_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := db.Conn(ctx, r.pool).QueryRow(ctx, query,
		p.Name,
		p.Description,
		p.Price,
		p.StockQuantity,
		p.ImageURL,
		p.CategoryID,
		p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert product: %w", err)
	}
	return nil
}

func (r *postgresRepository) UpdateProduct(ctx context.Context, p *Product) error {
	query := `
		UPDATE products
		SET name = $2, description = $3, price = $4, stock_quantity = $5, image_url = $6,
		    category_id = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := db.Conn(ctx, r.pool).QueryRow(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.Price,
		p.StockQuantity,
		p.ImageURL,
		p.CategoryID,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}
		return fmt.Errorf("repository: failed to update product %d: %w", p.ID, err)
	}
	return nil
}

func (r *postgresRepository) SetProductActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE products SET is_active = $2, updated_at = now() WHERE id = $1`

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("repository: failed to set active flag of product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *postgresRepository) GetCategory(ctx context.Context, id int64) (*Category, error) {
	query := `SELECT id, name, description, image_url, parent_id FROM categories WHERE id = $1`

	var c Category
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Description, &c.ImageURL, &c.ParentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("repository: failed to select category %d: %w", id, err)
	}
	return &c, nil
}
