package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

type Service interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProductsByCategory(ctx context.Context, categoryID int64) ([]Product, error)
	SearchProducts(ctx context.Context, query string) ([]Product, error)
	CreateProduct(ctx context.Context, input ProductInput) (*Product, error)
	UpdateProduct(ctx context.Context, id int64, input ProductInput) (*Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	ListCategories(ctx context.Context) ([]Category, error)
	ListTopCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (*Category, error)
	ListSubcategories(ctx context.Context, id int64) ([]Category, error)
}

type service struct {
	tx     db.Transactor
	repo   Repository
	reader Reader
}

func NewService(tx db.Transactor, repo Repository, reader Reader) Service {
	return &service{tx: tx, repo: repo, reader: reader}
}

func (s *service) ListProducts(ctx context.Context) ([]Product, error) {
	products, err := s.reader.ListActiveProducts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list products")
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (s *service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, err
		}
		log.Error().Err(err).Int64("product_id", id).Msg("service: failed to get product")
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (s *service) ListProductsByCategory(ctx context.Context, categoryID int64) ([]Product, error) {
	products, err := s.reader.ListActiveProductsByCategory(ctx, categoryID)
	if err != nil {
		log.Error().Err(err).Int64("category_id", categoryID).Msg("service: failed to list products by category")
		return nil, fmt.Errorf("failed to list products by category: %w", err)
	}
	return products, nil
}

func (s *service) SearchProducts(ctx context.Context, query string) ([]Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Product{}, nil
	}

	products, err := s.reader.SearchActiveProducts(ctx, query)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("service: failed to search products")
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return products, nil
}

func validateProductInput(input ProductInput) error {
	switch {
	case strings.TrimSpace(input.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case !input.Price.IsPositive():
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalidProduct)
	case input.StockQuantity < 0:
		return fmt.Errorf("%w: stock quantity cannot be negative", ErrInvalidProduct)
	}
	return nil
}

func (s *service) CreateProduct(ctx context.Context, input ProductInput) (*Product, error) {
	if err := validateProductInput(input); err != nil {
		return nil, err
	}

	p := &Product{IsActive: true}
	applyInput(p, input)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.resolveCategory(ctx, p); err != nil {
			return err
		}
		return s.repo.CreateProduct(ctx, p)
	})
	if err != nil {
		if errors.Is(err, ErrCategoryNotFound) {
			return nil, err
		}
		log.Error().Err(err).Msg("service: failed to create product")
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	log.Info().Int64("product_id", p.ID).Msg("service: product created")
	return p, nil
}

func (s *service) UpdateProduct(ctx context.Context, id int64, input ProductInput) (*Product, error) {
	if err := validateProductInput(input); err != nil {
		return nil, err
	}

	var p *Product
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetProduct(ctx, id)
		if err != nil {
			return err
		}

		prevCategory := p.CategoryID
		applyInput(p, input)
		// An omitted category keeps the current one.
		if input.CategoryID == nil {
			p.CategoryID = prevCategory
		}
		if err := s.resolveCategory(ctx, p); err != nil {
			return err
		}
		return s.repo.UpdateProduct(ctx, p)
	})
	if err != nil {
		if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrCategoryNotFound) {
			return nil, err
		}
		log.Error().Err(err).Int64("product_id", id).Msg("service: failed to update product")
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	log.Info().Int64("product_id", id).Msg("service: product updated")
	return p, nil
}

func (s *service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.SetProductActive(ctx, id, false); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return err
		}
		log.Error().Err(err).Int64("product_id", id).Msg("service: failed to deactivate product")
		return fmt.Errorf("failed to delete product: %w", err)
	}

	log.Info().Int64("product_id", id).Msg("service: product deactivated")
	return nil
}

func applyInput(p *Product, input ProductInput) {
	p.Name = strings.TrimSpace(input.Name)
	p.Description = input.Description
	p.Price = input.Price.Round(2)
	p.StockQuantity = input.StockQuantity
	p.ImageURL = input.ImageURL
	p.CategoryID = input.CategoryID
}

func (s *service) resolveCategory(ctx context.Context, p *Product) error {
	p.CategoryName = ""
	if p.CategoryID == nil {
		return nil
	}
	c, err := s.repo.GetCategory(ctx, *p.CategoryID)
	if err != nil {
		return err
	}
	p.CategoryName = c.Name
	return nil
}

func (s *service) ListCategories(ctx context.Context) ([]Category, error) {
	categories, err := s.reader.ListCategories(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list categories")
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

func (s *service) ListTopCategories(ctx context.Context) ([]Category, error) {
	categories, err := s.reader.ListTopCategories(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list top categories")
		return nil, fmt.Errorf("failed to list top categories: %w", err)
	}
	return categories, nil
}

func (s *service) GetCategory(ctx context.Context, id int64) (*Category, error) {
	c, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCategoryNotFound) {
			return nil, err
		}
		log.Error().Err(err).Int64("category_id", id).Msg("service: failed to get category")
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

func (s *service) ListSubcategories(ctx context.Context, id int64) ([]Category, error) {
	if _, err := s.GetCategory(ctx, id); err != nil {
		return nil, err
	}

	categories, err := s.reader.ListSubcategories(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("category_id", id).Msg("service: failed to list subcategories")
		return nil, fmt.Errorf("failed to list subcategories: %w", err)
	}
	return categories, nil
}
