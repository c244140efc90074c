package address

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
	ErrNotFound       = apperr.New(apperr.ErrNotFound, "address not found")
	ErrNotOwner       = apperr.New(apperr.ErrForbidden, "address belongs to another user")
	ErrInvalidAddress = apperr.New(apperr.ErrBadRequest, "invalid address")
)

type Repository interface {
	Create(ctx context.Context, a *Address) error
	GetByID(ctx context.Context, id int64) (*Address, error)
	ListByUserID(ctx context.Context, userID int64) ([]Address, error)
	// ClearDefault unsets the default flag on every address of userID with type t.
	ClearDefault(ctx context.Context, userID int64, t Type) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const addressColumns = `id, user_id, street, city, state, postal_code, country, is_default, address_type`

func scanAddress(row pgx.Row) (*Address, error) {
	var a Address
	err := row.Scan(&a.ID, &a.UserID, &a.Street, &a.City, &a.State, &a.PostalCode, &a.Country, &a.IsDefault, &a.Type)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *postgresRepository) Create(ctx context.Context, a *Address) error {
	query := `
		INSERT INTO addresses (user_id, street, city, state, postal_code, country, is_default, address_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := db.Conn(ctx, r.pool).QueryRow(ctx, query,
		a.UserID,
		a.Street,
		a.City,
		a.State,
		a.PostalCode,
		a.Country,
		a.IsDefault,
		string(a.Type),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to insert address: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id int64) (*Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1`

	a, err := scanAddress(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select address %d: %w", id, err)
	}
	return a, nil
}

func (r *postgresRepository) ListByUserID(ctx context.Context, userID int64) ([]Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE user_id = $1 ORDER BY id`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to select addresses of user %d: %w", userID, err)
	}
	defer rows.Close()

	addresses := []Address{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan address: %w", err)
		}
		addresses = append(addresses, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate addresses: %w", err)
	}
	return addresses, nil
}

func (r *postgresRepository) ClearDefault(ctx context.Context, userID int64, t Type) error {
	query := `UPDATE addresses SET is_default = FALSE WHERE user_id = $1 AND address_type = $2 AND is_default`

	if _, err := db.Conn(ctx, r.pool).Exec(ctx, query, userID, string(t)); err != nil {
		return fmt.Errorf("repository: failed to clear default address of user %d: %w", userID, err)
	}
	return nil
}
