package catalog

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Reader serves the public listing endpoints. It never takes part in a
// transaction.
type Reader interface {
	ListActiveProducts(ctx context.Context) ([]Product, error)
	ListActiveProductsByCategory(ctx context.Context, categoryID int64) ([]Product, error)
	SearchActiveProducts(ctx context.Context, query string) ([]Product, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListTopCategories(ctx context.Context) ([]Category, error)
	ListSubcategories(ctx context.Context, parentID int64) ([]Category, error)
}

type sqlxReader struct {
	db *sqlx.DB
}

func NewReader(db *sqlx.DB) Reader {
	return &sqlxReader{db: db}
}

const categoryColumns = `id, name, description, image_url, parent_id`

func (r *sqlxReader) ListActiveProducts(ctx context.Context) ([]Product, error) {
	products := []Product{}
	if err := r.db.SelectContext(ctx, &products, productSelect+`WHERE p.is_active ORDER BY p.id`); err != nil {
		return nil, fmt.Errorf("repository: failed to list products: %w", err)
	}
	return products, nil
}

func (r *sqlxReader) ListActiveProductsByCategory(ctx context.Context, categoryID int64) ([]Product, error) {
	products := []Product{}
	query := productSelect + `WHERE p.is_active AND p.category_id = $1 ORDER BY p.id`
	if err := r.db.SelectContext(ctx, &products, query, categoryID); err != nil {
		return nil, fmt.Errorf("repository: failed to list products of category %d: %w", categoryID, err)
	}
	return products, nil
}

func (r *sqlxReader) SearchActiveProducts(ctx context.Context, query string) ([]Product, error) {
	products := []Product{}
	sql := productSelect + `WHERE p.is_active AND p.name ILIKE '%' || $1 || '%' ORDER BY p.id`
	if err := r.db.SelectContext(ctx, &products, sql, escapeLike(query)); err != nil {
		return nil, fmt.Errorf("repository: failed to search products: %w", err)
	}
	return products, nil
}

func (r *sqlxReader) ListCategories(ctx context.Context) ([]Category, error) {
	categories := []Category{}
	if err := r.db.SelectContext(ctx, &categories, `SELECT `+categoryColumns+` FROM categories ORDER BY id`); err != nil {
		return nil, fmt.Errorf("repository: failed to list categories: %w", err)
	}
	return categories, nil
}

func (r *sqlxReader) ListTopCategories(ctx context.Context) ([]Category, error) {
	categories := []Category{}
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE parent_id IS NULL ORDER BY id`
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("repository: failed to list top categories: %w", err)
	}
	return categories, nil
}

func (r *sqlxReader) ListSubcategories(ctx context.Context, parentID int64) ([]Category, error) {
	categories := []Category{}
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE parent_id = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &categories, query, parentID); err != nil {
		return nil, fmt.Errorf("repository: failed to list subcategories of %d: %w", parentID, err)
	}
	return categories, nil
}
