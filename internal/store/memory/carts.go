package memory

import (
	"context"
	"sort"

	"github.com/vasiliy-maslov/storefront/internal/cart"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type cartRepo struct{ s *Store }

func (r cartRepo) GetOrCreate(ctx context.Context, userID int64) (*cart.Cart, error) {
	var out *cart.Cart
	err := r.s.write(ctx, func(st *state) error {
		for _, c := range st.carts {
			if c.UserID == userID {
				out = &c
				return nil
			}
		}
		if _, ok := st.users[userID]; !ok {
			return user.ErrNotFound
		}
		now := r.s.now().UTC()
		c := cart.Cart{ID: st.next("carts"), UserID: userID, CreatedAt: now, UpdatedAt: now}
		st.carts[c.ID] = c
		out = &c
		return nil
	})
	return out, err
}

// GetOrCreateForUpdate relies on the store lock held by the transaction.
func (r cartRepo) GetOrCreateForUpdate(ctx context.Context, userID int64) (*cart.Cart, error) {
	return r.GetOrCreate(ctx, userID)
}

func (r cartRepo) ListLines(ctx context.Context, cartID int64) ([]cart.Line, error) {
	lines := []cart.Line{}
	err := r.s.read(ctx, func(st *state) error {
		for _, it := range st.cartItems {
			if it.CartID != cartID {
				continue
			}
			p, ok := st.products[it.ProductID]
			if !ok {
				return catalog.ErrProductNotFound
			}
			lines = append(lines, cart.Line{Item: it, Product: p})
		}
		return nil
	})
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, err
}

func (r cartRepo) GetItem(ctx context.Context, itemID int64) (*cart.Item, error) {
	var out *cart.Item
	err := r.s.read(ctx, func(st *state) error {
		it, ok := st.cartItems[itemID]
		if !ok {
			return cart.ErrItemNotFound
		}
		out = &it
		return nil
	})
	return out, err
}

func (r cartRepo) FindItem(ctx context.Context, cartID, productID int64) (*cart.Item, error) {
	var out *cart.Item
	err := r.s.read(ctx, func(st *state) error {
		for _, it := range st.cartItems {
			if it.CartID == cartID && it.ProductID == productID {
				out = &it
				return nil
			}
		}
		return cart.ErrItemNotFound
	})
	return out, err
}

func (r cartRepo) InsertItem(ctx context.Context, item *cart.Item) error {
	return r.s.write(ctx, func(st *state) error {
		for _, it := range st.cartItems {
			if it.CartID == item.CartID && it.ProductID == item.ProductID {
				return errDuplicateCartLine
			}
		}
		if item.Quantity < 1 {
			return cart.ErrInvalidQuantity
		}
		item.ID = st.next("cart_items")
		st.cartItems[item.ID] = *item
		r.touch(st, item.CartID)
		return nil
	})
}

func (r cartRepo) UpdateItemQuantity(ctx context.Context, itemID int64, qty int) error {
	return r.s.write(ctx, func(st *state) error {
		it, ok := st.cartItems[itemID]
		if !ok {
			return cart.ErrItemNotFound
		}
		if qty < 1 {
			return cart.ErrInvalidQuantity
		}
		it.Quantity = qty
		st.cartItems[itemID] = it
		r.touch(st, it.CartID)
		return nil
	})
}

func (r cartRepo) DeleteItem(ctx context.Context, itemID int64) error {
	return r.s.write(ctx, func(st *state) error {
		it, ok := st.cartItems[itemID]
		if !ok {
			return cart.ErrItemNotFound
		}
		delete(st.cartItems, itemID)
		r.touch(st, it.CartID)
		return nil
	})
}

func (r cartRepo) ClearItems(ctx context.Context, cartID int64) error {
	return r.s.write(ctx, func(st *state) error {
		for id, it := range st.cartItems {
			if it.CartID == cartID {
				delete(st.cartItems, id)
			}
		}
		r.touch(st, cartID)
		return nil
	})
}

func (r cartRepo) touch(st *state, cartID int64) {
	if c, ok := st.carts[cartID]; ok {
		c.UpdatedAt = r.s.now().UTC()
		st.carts[cartID] = c
	}
}
