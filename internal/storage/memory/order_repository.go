package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	mu sync.Locker
	st func() *state
}

func (r *orderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.st()

	if _, exists := st.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	if _, taken := st.orderNumbers[order.OrderNumber]; taken {
		return domain.ErrOrderNumberTaken
	}

	st.orders[order.ID] = order.Clone()
	st.orderNumbers[order.OrderNumber] = order.ID
	return nil
}

func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.st().orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetForUpdate совпадает с Get: единица работы уже владеет хранилищем целиком.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r *orderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders := make([]domain.Order, 0)
	for _, order := range r.st().orders {
		if order.UserID == userID {
			orders = append(orders, order.Clone())
		}
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (r *orderRepository) CountSince(_ context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, order := range r.st().orders {
		if !order.OrderedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *orderRepository) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.st()

	existing, ok := st.orders[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if existing.Version != order.Version {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	// Позиции и номер неизменяемы после создания.
	updated := existing.Clone()
	updated.Status = order.Status
	updated.Notes = order.Notes
	updated.CancelledAt = order.Clone().CancelledAt
	updated.UpdatedAt = order.UpdatedAt
	updated.Version = existing.Version + 1

	st.orders[order.ID] = updated
	return updated.Clone(), nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
