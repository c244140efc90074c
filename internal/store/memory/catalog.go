package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/vasiliy-maslov/storefront/internal/catalog"
)

// CatalogRepo implements both catalog.Repository and catalog.Reader.
type CatalogRepo struct{ s *Store }

var (
	_ catalog.Repository = (*CatalogRepo)(nil)
	_ catalog.Reader     = (*CatalogRepo)(nil)
)

func withCategoryName(st *state, p catalog.Product) catalog.Product {
	p.CategoryName = ""
	if p.CategoryID != nil {
		if c, ok := st.categories[*p.CategoryID]; ok {
			p.CategoryName = c.Name
		}
	}
	return p
}

func (r *CatalogRepo) GetProduct(ctx context.Context, id int64) (*catalog.Product, error) {
	var out *catalog.Product
	err := r.s.read(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return catalog.ErrProductNotFound
		}
		p = withCategoryName(st, p)
		out = &p
		return nil
	})
	return out, err
}

func (r *CatalogRepo) GetProductForShare(ctx context.Context, id int64) (*catalog.Product, error) {
	return r.GetProduct(ctx, id)
}

func (r *CatalogRepo) LockProducts(ctx context.Context, ids []int64) (map[int64]*catalog.Product, error) {
	out := make(map[int64]*catalog.Product, len(ids))
	err := r.s.read(ctx, func(st *state) error {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				p = withCategoryName(st, p)
				out[id] = &p
			}
		}
		return nil
	})
	return out, err
}

func (r *CatalogRepo) DecrementStock(ctx context.Context, id int64, qty int) error {
	return r.s.write(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return catalog.ErrProductNotFound
		}
		if p.StockQuantity < qty {
			return catalog.ErrInsufficientStock
		}
		p.StockQuantity -= qty
		p.UpdatedAt = r.s.now().UTC()
		st.products[id] = p
		return nil
	})
}

func (r *CatalogRepo) CreateProduct(ctx context.Context, p *catalog.Product) error {
	return r.s.write(ctx, func(st *state) error {
		p.ID = st.next("products")
		p.CreatedAt = r.s.now().UTC()
		p.UpdatedAt = p.CreatedAt
		st.products[p.ID] = *p
		return nil
	})
}

func (r *CatalogRepo) UpdateProduct(ctx context.Context, p *catalog.Product) error {
	return r.s.write(ctx, func(st *state) error {
		existing, ok := st.products[p.ID]
		if !ok {
			return catalog.ErrProductNotFound
		}
		p.CreatedAt = existing.CreatedAt
		p.IsActive = existing.IsActive
		p.UpdatedAt = r.s.now().UTC()
		st.products[p.ID] = *p
		return nil
	})
}

func (r *CatalogRepo) SetProductActive(ctx context.Context, id int64, active bool) error {
	return r.s.write(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return catalog.ErrProductNotFound
		}
		p.IsActive = active
		p.UpdatedAt = r.s.now().UTC()
		st.products[id] = p
		return nil
	})
}

// CreateCategory is used for seeding; category mutations are not exposed
// over the API.
func (r *CatalogRepo) CreateCategory(ctx context.Context, c *catalog.Category) error {
	return r.s.write(ctx, func(st *state) error {
		for _, existing := range st.categories {
			if strings.EqualFold(existing.Name, c.Name) {
				return catalog.ErrCategoryExists
			}
		}
		c.ID = st.next("categories")
		st.categories[c.ID] = *c
		return nil
	})
}

func (r *CatalogRepo) GetCategory(ctx context.Context, id int64) (*catalog.Category, error) {
	var out *catalog.Category
	err := r.s.read(ctx, func(st *state) error {
		c, ok := st.categories[id]
		if !ok {
			return catalog.ErrCategoryNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r *CatalogRepo) products(ctx context.Context, keep func(p catalog.Product) bool) ([]catalog.Product, error) {
	products := []catalog.Product{}
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range st.products {
			if keep(p) {
				products = append(products, withCategoryName(st, p))
			}
		}
		return nil
	})
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, err
}

func (r *CatalogRepo) ListActiveProducts(ctx context.Context) ([]catalog.Product, error) {
	return r.products(ctx, func(p catalog.Product) bool { return p.IsActive })
}

func (r *CatalogRepo) ListActiveProductsByCategory(ctx context.Context, categoryID int64) ([]catalog.Product, error) {
	return r.products(ctx, func(p catalog.Product) bool {
		return p.IsActive && p.CategoryID != nil && *p.CategoryID == categoryID
	})
}

func (r *CatalogRepo) SearchActiveProducts(ctx context.Context, query string) ([]catalog.Product, error) {
	return r.products(ctx, func(p catalog.Product) bool {
		return p.IsActive && catalog.MatchesName(p.Name, query)
	})
}

func (r *CatalogRepo) categories(ctx context.Context, keep func(c catalog.Category) bool) ([]catalog.Category, error) {
	categories := []catalog.Category{}
	err := r.s.read(ctx, func(st *state) error {
		for _, c := range st.categories {
			if keep(c) {
				categories = append(categories, c)
			}
		}
		return nil
	})
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	return categories, err
}

func (r *CatalogRepo) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	return r.categories(ctx, func(catalog.Category) bool { return true })
}

func (r *CatalogRepo) ListTopCategories(ctx context.Context) ([]catalog.Category, error) {
	return r.categories(ctx, func(c catalog.Category) bool { return c.ParentID == nil })
}

func (r *CatalogRepo) ListSubcategories(ctx context.Context, parentID int64) ([]catalog.Category, error) {
	return r.categories(ctx, func(c catalog.Category) bool {
		return c.ParentID != nil && *c.ParentID == parentID
	})
}
