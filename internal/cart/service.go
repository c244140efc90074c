package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

// ProductSource is the part of the catalog the cart reads stock and price from.
type ProductSource interface {
	GetProductForShare(ctx context.Context, id int64) (*catalog.Product, error)
}

type Service interface {
	GetCart(ctx context.Context, userID int64) (*View, error)
	AddToCart(ctx context.Context, userID, productID int64, qty int) (*View, error)
	// UpdateCartItem deletes the line when qty is zero or negative.
	UpdateCartItem(ctx context.Context, userID, itemID int64, qty int) (*View, error)
	RemoveFromCart(ctx context.Context, userID, itemID int64) (*View, error)
	ClearCart(ctx context.Context, userID int64) error
	EnsureCart(ctx context.Context, userID int64) error
}

type service struct {
	tx       db.Transactor
	repo     Repository
	products ProductSource
}

func NewService(tx db.Transactor, repo Repository, products ProductSource) Service {
	return &service{tx: tx, repo: repo, products: products}
}

func (s *service) GetCart(ctx context.Context, userID int64) (*View, error) {
	var view *View
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		view, err = s.view(ctx, c.ID)
		return err
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("service: failed to get cart")
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return view, nil
}

func (s *service) EnsureCart(ctx context.Context, userID int64) error {
	if _, err := s.repo.GetOrCreate(ctx, userID); err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}

func (s *service) AddToCart(ctx context.Context, userID, productID int64, qty int) (*View, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	var view *View
	err := s.mutate(ctx, userID, func(ctx context.Context, c *Cart) error {
		p, err := s.products.GetProductForShare(ctx, productID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return catalog.ErrProductInactive
		}

		existing, err := s.repo.FindItem(ctx, c.ID, productID)
		if err != nil && !errors.Is(err, ErrItemNotFound) {
			return err
		}

		wanted := qty
		if existing != nil {
			wanted += existing.Quantity
		}
		if p.StockQuantity < wanted {
			return insufficientStock(p, wanted)
		}

		if existing != nil {
			err = s.repo.UpdateItemQuantity(ctx, existing.ID, wanted)
		} else {
			err = s.repo.InsertItem(ctx, &Item{CartID: c.ID, ProductID: productID, Quantity: qty})
		}
		if err != nil {
			return err
		}

		view, err = s.view(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, s.mutationError(err, userID, "add to cart")
	}

	log.Info().Int64("user_id", userID).Int64("product_id", productID).Int("quantity", qty).Msg("service: product added to cart")
	return view, nil
}

func (s *service) UpdateCartItem(ctx context.Context, userID, itemID int64, qty int) (*View, error) {
	var view *View
	err := s.mutate(ctx, userID, func(ctx context.Context, c *Cart) error {
		item, err := s.ownedItem(ctx, c, itemID)
		if err != nil {
			return err
		}

		if qty <= 0 {
			err = s.repo.DeleteItem(ctx, item.ID)
		} else {
			p, perr := s.products.GetProductForShare(ctx, item.ProductID)
			if perr != nil {
				return perr
			}
			if p.StockQuantity < qty {
				return insufficientStock(p, qty)
			}
			err = s.repo.UpdateItemQuantity(ctx, item.ID, qty)
		}
		if err != nil {
			return err
		}

		view, err = s.view(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, s.mutationError(err, userID, "update cart item")
	}
	return view, nil
}

func (s *service) RemoveFromCart(ctx context.Context, userID, itemID int64) (*View, error) {
	var view *View
	err := s.mutate(ctx, userID, func(ctx context.Context, c *Cart) error {
		item, err := s.ownedItem(ctx, c, itemID)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteItem(ctx, item.ID); err != nil {
			return err
		}
		view, err = s.view(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, s.mutationError(err, userID, "remove from cart")
	}
	return view, nil
}

func (s *service) ClearCart(ctx context.Context, userID int64) error {
	err := s.mutate(ctx, userID, func(ctx context.Context, c *Cart) error {
		return s.repo.ClearItems(ctx, c.ID)
	})
	if err != nil {
		return s.mutationError(err, userID, "clear cart")
	}
	return nil
}

// mutate runs fn in a transaction holding the lock on the user's cart row.
func (s *service) mutate(ctx context.Context, userID int64, fn func(ctx context.Context, c *Cart) error) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetOrCreateForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		return fn(ctx, c)
	})
}

func (s *service) ownedItem(ctx context.Context, c *Cart, itemID int64) (*Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.CartID != c.ID {
		return nil, ErrItemNotOwned
	}
	return item, nil
}

func (s *service) view(ctx context.Context, cartID int64) (*View, error) {
	lines, err := s.repo.ListLines(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return NewView(cartID, lines), nil
}

func insufficientStock(p *catalog.Product, wanted int) error {
	return fmt.Errorf("%w for product %q: requested %d, available %d", catalog.ErrInsufficientStock, p.Name, wanted, p.StockQuantity)
}

func (s *service) mutationError(err error, userID int64, op string) error {
	switch {
	case errors.Is(err, catalog.ErrInsufficientStock):
		log.Warn().Err(err).Int64("user_id", userID).Msgf("service: %s rejected", op)
		return err
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrProductInactive),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrItemNotOwned):
		return err
	}
	log.Error().Err(err).Int64("user_id", userID).Msgf("service: failed to %s", op)
	return fmt.Errorf("failed to %s: %w", op, err)
}
