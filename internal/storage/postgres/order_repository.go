package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderNumberConstraint = "orders_order_number_key"

const selectOrderColumns = `
	SELECT id, order_number, user_id, address_id, status, total_amount, currency,
	       notes, version, ordered_at, created_at, updated_at, cancelled_at
	FROM orders
`

type orderRow struct {
	ID          string          `db:"id"`
	OrderNumber string          `db:"order_number"`
	UserID      string          `db:"user_id"`
	AddressID   string          `db:"address_id"`
	Status      string          `db:"status"`
	TotalAmount decimal.Decimal `db:"total_amount"`
	Currency    string          `db:"currency"`
	Notes       string          `db:"notes"`
	Version     int64           `db:"version"`
	OrderedAt   time.Time       `db:"ordered_at"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CancelledAt sql.NullTime    `db:"cancelled_at"`
}

func (r orderRow) toDomain() domain.Order {
	order := domain.Order{
		ID:          r.ID,
		OrderNumber: r.OrderNumber,
		UserID:      r.UserID,
		AddressID:   r.AddressID,
		Status:      domain.OrderStatus(r.Status),
		TotalAmount: r.TotalAmount,
		Currency:    r.Currency,
		Notes:       r.Notes,
		Version:     r.Version,
		OrderedAt:   r.OrderedAt.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.CancelledAt.Valid {
		cancelledAt := r.CancelledAt.Time.UTC()
		order.CancelledAt = &cancelledAt
	}
	return order
}

type orderItemRow struct {
	ID        string          `db:"id"`
	OrderID   string          `db:"order_id"`
	ProductID string          `db:"product_id"`
	Quantity  int32           `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	CreatedAt time.Time       `db:"created_at"`
}

type orderRepository struct {
	q queryer
}

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.Version == 0 {
		order.Version = 1
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, address_id, status, total_amount, currency,
			notes, version, ordered_at, created_at, updated_at, cancelled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		order.ID, order.OrderNumber, order.UserID, order.AddressID, string(order.Status),
		order.TotalAmount, order.Currency, order.Notes, order.Version,
		order.OrderedAt, order.CreatedAt, order.UpdatedAt, order.CancelledAt,
	)
	if err != nil {
		if violatedConstraint(err) == orderNumberConstraint {
			return domain.ErrOrderNumberTaken
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, quantity, unit_price, created_at
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			item.ID, order.ID, item.ProductID, item.Quantity, item.UnitPrice, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, false)
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, true)
}

func (r *orderRepository) get(ctx context.Context, id string, forUpdate bool) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := selectOrderColumns + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row orderRow
	if err := r.q.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	order := row.toDomain()
	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]

	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := selectOrderColumns + `
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows []orderRow
		err  error
	)
	if limit > 0 {
		err = r.q.SelectContext(ctx, &rows, query+" LIMIT $2", userID, limit)
	} else {
		err = r.q.SelectContext(ctx, &rows, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(rows) == 0 {
		return []domain.Order{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order := row.toDomain()
		order.Items = items[order.ID]
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *orderRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int64
	if err := r.q.GetContext(ctx, &count, `SELECT COUNT(*) FROM orders WHERE ordered_at >= $1`, since); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var version int64
	err := r.q.GetContext(ctx, &version, `
		UPDATE orders
		SET status = $1,
		    notes = $2,
		    cancelled_at = $3,
		    updated_at = $4,
		    version = version + 1
		WHERE id = $5
		  AND version = $6
		RETURNING version
	`,
		string(order.Status),
		order.Notes,
		order.CancelledAt,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("update order: %w", err)
		}
		exists, existsErr := r.exists(ctx, order.ID)
		if existsErr != nil {
			return domain.Order{}, existsErr
		}
		if !exists {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	updated := order.Clone()
	updated.Version = version
	return updated, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	query, args, err := sqlx.In(`
		SELECT id, order_id, product_id, quantity, unit_price, created_at
		FROM order_items
		WHERE order_id IN (?)
		ORDER BY created_at ASC, id ASC
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("build order items query: %w", err)
	}

	var rows []orderItemRow
	if err := r.q.SelectContext(ctx, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}

	items := make(map[string][]domain.OrderItem, len(orderIDs))
	for _, row := range rows {
		items[row.OrderID] = append(items[row.OrderID], domain.OrderItem{
			ID:        row.ID,
			ProductID: row.ProductID,
			Quantity:  row.Quantity,
			UnitPrice: row.UnitPrice,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *orderRepository) exists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	if err := r.q.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID); err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return exists, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
