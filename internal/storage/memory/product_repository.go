package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepository struct {
	mu sync.Locker
	st func() *state
}

func (r *productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.st().products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepository) GetForUpdate(ctx context.Context, id string) (domain.Product, error) {
	return r.Get(ctx, id)
}

func (r *productRepository) AdjustStock(_ context.Context, id string, delta int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.st()

	product, ok := st.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	next := product.StockQuantity + delta
	if next < 0 {
		return fmt.Errorf("%w: product %s has %d, requested %d", domain.ErrInsufficientStock, id, product.StockQuantity, -delta)
	}
	product.StockQuantity = next
	st.products[id] = product
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
