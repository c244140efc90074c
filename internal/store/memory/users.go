package memory

import (
	"context"
	"sort"

	"github.com/vasiliy-maslov/storefront/internal/address"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, u *user.User) (int64, error) {
	err := r.s.write(ctx, func(st *state) error {
		email := user.NormalizeEmail(u.Email)
		for _, existing := range st.users {
			if user.NormalizeEmail(existing.Email) == email {
				return user.ErrEmailExists
			}
		}
		u.ID = st.next("users")
		u.CreatedAt = r.s.now().UTC()
		u.UpdatedAt = u.CreatedAt
		st.users[u.ID] = *u
		return nil
	})
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

func (r userRepo) GetByID(ctx context.Context, id int64) (*user.User, error) {
	var out *user.User
	err := r.s.read(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return user.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	var out *user.User
	err := r.s.read(ctx, func(st *state) error {
		email = user.NormalizeEmail(email)
		for _, u := range st.users {
			if user.NormalizeEmail(u.Email) == email {
				out = &u
				return nil
			}
		}
		return user.ErrNotFound
	})
	return out, err
}

func (r userRepo) List(ctx context.Context) ([]user.User, error) {
	users := []user.User{}
	err := r.s.read(ctx, func(st *state) error {
		for _, u := range st.users {
			users = append(users, u)
		}
		return nil
	})
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, err
}

type addressRepo struct{ s *Store }

func (r addressRepo) Create(ctx context.Context, a *address.Address) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.users[a.UserID]; !ok {
			return user.ErrNotFound
		}
		a.ID = st.next("addresses")
		st.addresses[a.ID] = *a
		return nil
	})
}

func (r addressRepo) GetByID(ctx context.Context, id int64) (*address.Address, error) {
	var out *address.Address
	err := r.s.read(ctx, func(st *state) error {
		a, ok := st.addresses[id]
		if !ok {
			return address.ErrNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r addressRepo) ListByUserID(ctx context.Context, userID int64) ([]address.Address, error) {
	addresses := []address.Address{}
	err := r.s.read(ctx, func(st *state) error {
		for _, a := range st.addresses {
			if a.UserID == userID {
				addresses = append(addresses, a)
			}
		}
		return nil
	})
	sort.Slice(addresses, func(i, j int) bool { return addresses[i].ID < addresses[j].ID })
	return addresses, err
}

func (r addressRepo) ClearDefault(ctx context.Context, userID int64, t address.Type) error {
	return r.s.write(ctx, func(st *state) error {
		for id, a := range st.addresses {
			if a.UserID == userID && a.Type == t && a.IsDefault {
				a.IsDefault = false
				st.addresses[id] = a
			}
		}
		return nil
	})
}
