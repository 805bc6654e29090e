package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRow struct {
	ID            string          `db:"id"`
	Name          string          `db:"name"`
	Price         decimal.Decimal `db:"price"`
	StockQuantity int32           `db:"stock_quantity"`
	IsActive      bool            `db:"is_active"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:            r.ID,
		Name:          r.Name,
		Price:         r.Price,
		StockQuantity: r.StockQuantity,
		IsActive:      r.IsActive,
	}
}

type productRepository struct {
	q queryer
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	return r.get(ctx, id, false)
}

func (r *productRepository) GetForUpdate(ctx context.Context, id string) (domain.Product, error) {
	return r.get(ctx, id, true)
}

func (r *productRepository) get(ctx context.Context, id string, forUpdate bool) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT id, name, price, stock_quantity, is_active FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row productRow
	if err := r.q.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return row.toDomain(), nil
}

// AdjustStock меняет остаток одним UPDATE с условием неотрицательности.
func (r *productRepository) AdjustStock(ctx context.Context, id string, delta int32) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stock int32
	err := r.q.GetContext(ctx, &stock, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock_quantity + $2 >= 0
		RETURNING stock_quantity
	`, id, delta)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("adjust stock: %w", err)
	}

	product, getErr := r.get(ctx, id, false)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: product %s has %d, requested %d", domain.ErrInsufficientStock, id, product.StockQuantity, -delta)
}

// UpsertProduct добавляет или обновляет товар каталога.
func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (id, name, price, stock_quantity, is_active)
		VALUES (:id, :name, :price, :stock_quantity, :is_active)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    stock_quantity = EXCLUDED.stock_quantity,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()
	`, productRow{
		ID:            product.ID,
		Name:          product.Name,
		Price:         product.Price,
		StockQuantity: product.StockQuantity,
		IsActive:      product.IsActive,
	})
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
