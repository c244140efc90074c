package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/storefront/internal/address"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

type Repository interface {
	// Create persists the order and its items, assigning ids to both.
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	// GetByIDForUpdate locks the order row until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*Order, error)
	ListByUserID(ctx context.Context, userID int64) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetPaid(ctx context.Context, id int64, intentID string) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Create(ctx context.Context, order *Order) error {
	q := db.Conn(ctx, r.pool)

	orderQuery := `
		INSERT INTO orders (user_id, status, total_amount, order_date, shipping_address_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, updated_at
	`
	err := q.QueryRow(ctx, orderQuery,
		order.UserID,
		string(order.Status),
		order.TotalAmount,
		order.OrderDate,
		order.ShippingAddressID,
	).Scan(&order.ID, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	// Позиции пишем в той же транзакции, что и сам заказ
	itemQuery := `
		INSERT INTO order_items (order_id, product_id, quantity, price_at_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if err := q.QueryRow(ctx, itemQuery, order.ID, item.ProductID, item.Quantity, item.PriceAtTime).Scan(&item.ID); err != nil {
			return fmt.Errorf("repository: failed to insert order item for product %d: %w", item.ProductID, err)
		}
	}

	return nil
}

const orderSelect = `
	SELECT o.id, o.user_id, o.status, o.total_amount, o.order_date, o.shipping_address_id,
	       o.payment_intent_id, o.updated_at,
	       a.id, a.user_id, a.street, a.city, a.state, a.postal_code, a.country, a.is_default, a.address_type
	FROM orders o
	LEFT JOIN addresses a ON a.id = o.shipping_address_id
`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o    Order
		addr struct {
			ID         *int64
			UserID     *int64
			Street     *string
			City       *string
			State      *string
			PostalCode *string
			Country    *string
			IsDefault  *bool
			Type       *string
		}
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Status, &o.TotalAmount, &o.OrderDate, &o.ShippingAddressID,
		&o.PaymentIntentID, &o.UpdatedAt,
		&addr.ID, &addr.UserID, &addr.Street, &addr.City, &addr.State, &addr.PostalCode,
		&addr.Country, &addr.IsDefault, &addr.Type,
	)
	if err != nil {
		return nil, err
	}
	if addr.ID != nil {
		o.ShippingAddress = &address.Address{
			ID:         *addr.ID,
			UserID:     *addr.UserID,
			Street:     *addr.Street,
			City:       *addr.City,
			State:      *addr.State,
			PostalCode: *addr.PostalCode,
			Country:    *addr.Country,
			IsDefault:  *addr.IsDefault,
			Type:       address.Type(*addr.Type),
		}
	}
	return &o, nil
}

func (r *postgresRepository) getOne(ctx context.Context, query string, id int64) (*Order, error) {
	o, err := scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order %d: %w", id, err)
	}

	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id int64) (*Order, error) {
	return r.getOne(ctx, orderSelect+`WHERE o.id = $1`, id)
}

func (r *postgresRepository) GetByIDForUpdate(ctx context.Context, id int64) (*Order, error) {
	return r.getOne(ctx, orderSelect+`WHERE o.id = $1 FOR UPDATE OF o`, id)
}

func (r *postgresRepository) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to select orders: %w", err)
	}
	defer rows.Close()

	var ptrs []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		ptrs = append(ptrs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate orders: %w", err)
	}
	rows.Close()

	if err := r.loadItems(ctx, ptrs); err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(ptrs))
	for _, o := range ptrs {
		orders = append(orders, *o)
	}
	return orders, nil
}

func (r *postgresRepository) ListByUserID(ctx context.Context, userID int64) ([]Order, error) {
	return r.list(ctx, orderSelect+`WHERE o.user_id = $1 ORDER BY o.order_date DESC, o.id DESC`, userID)
}

func (r *postgresRepository) ListAll(ctx context.Context) ([]Order, error) {
	return r.list(ctx, orderSelect+`ORDER BY o.order_date DESC, o.id DESC`)
}

func (r *postgresRepository) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		o.Items = []Item{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	query := `
		SELECT oi.id, oi.order_id, oi.product_id, p.name, p.image_url, oi.quantity, oi.price_at_time
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.id
	`
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductImageURL, &it.Quantity, &it.PriceAtTime); err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		o := byID[it.OrderID]
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: failed to iterate order items: %w", err)
	}
	return nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	query := `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("repository: failed to update status of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) SetPaid(ctx context.Context, id int64, intentID string) error {
	query := `
		UPDATE orders SET status = $2, payment_intent_id = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, id, string(StatusPaid), intentID, string(StatusPending))
	if err != nil {
		// orders_payment_intent_id_key: intent already settles another order
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: intent %s is already recorded on another order", ErrPaymentMismatch, intentID)
		}
		return fmt.Errorf("repository: failed to mark order %d paid: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}
