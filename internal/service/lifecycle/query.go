package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// OrderView — заказ вместе с платежом и историей.
type OrderView struct {
	Order    domain.Order
	Payment  *domain.Payment
	Timeline []domain.TimelineEvent
}

// GetOrder возвращает заказ владельцу или администратору.
func (c *Controller) GetOrder(ctx context.Context, principal domain.Principal, orderID string) (OrderView, error) {
	if err := requirePrincipal(principal); err != nil {
		return OrderView{}, err
	}

	order, err := c.store.Orders().Get(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	if err := authorize(principal, order); err != nil {
		return OrderView{}, err
	}

	view := OrderView{Order: order}

	payment, err := c.store.Payments().GetByOrder(ctx, order.ID)
	switch {
	case err == nil:
		view.Payment = &payment
	case !errors.Is(err, domain.ErrPaymentNotFound):
		return OrderView{}, fmt.Errorf("load payment: %w", err)
	}

	view.Timeline, err = c.store.Timeline().List(ctx, order.ID)
	if err != nil {
		return OrderView{}, fmt.Errorf("load timeline: %w", err)
	}
	return view, nil
}

// ListOrders возвращает последние заказы principal.
func (c *Controller) ListOrders(ctx context.Context, principal domain.Principal, limit int) ([]domain.Order, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return c.store.Orders().ListByUser(ctx, principal.ID, limit)
}
