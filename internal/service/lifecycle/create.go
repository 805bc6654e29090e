package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartLine — строка корзины в запросе на оформление.
type CartLine struct {
	ProductID string
	Quantity  int32
}

// CreateOrderInput — параметры оформления заказа.
type CreateOrderInput struct {
	AddressID string
	Items     []CartLine
	Notes     string
}

// mergeLines складывает количества повторяющихся товаров и упорядочивает
// строки по идентификатору товара: это порядок блокировок строк каталога.
func mergeLines(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	totals := make(map[string]int64, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product_id is required", domain.ErrInvalidRequest)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", domain.ErrInvalidQuantity, productID)
		}
		totals[productID] += int64(line.Quantity)
	}

	merged := make([]CartLine, 0, len(totals))
	for productID, qty := range totals {
		if qty > int64(^uint32(0)>>1) {
			return nil, fmt.Errorf("%w: product %s", domain.ErrInvalidQuantity, productID)
		}
		merged = append(merged, CartLine{ProductID: productID, Quantity: int32(qty)})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}

// CreateOrder оформляет заказ: фиксирует цены, списывает сток и присваивает
// номер в одной единице работы. При коллизии номера единица повторяется целиком.
func (c *Controller) CreateOrder(ctx context.Context, principal domain.Principal, in CreateOrderInput) (domain.Order, error) {
	if err := requirePrincipal(principal); err != nil {
		return domain.Order{}, err
	}
	lines, err := mergeLines(in.Items)
	if err != nil {
		return domain.Order{}, err
	}

	addressID := strings.TrimSpace(in.AddressID)
	if addressID == "" {
		return domain.Order{}, domain.ErrInvalidAddress
	}
	owned, err := c.store.Addresses().Owns(ctx, principal.ID, addressID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("check address: %w", err)
	}
	if !owned {
		return domain.Order{}, domain.ErrInvalidAddress
	}

	done := c.metrics.UnitStarted("create_order")
	defer done()

	var created domain.Order
	attempt := 0
	err = retry(ctx, c.retry, c.logger, "create_order", isOrderNumberTaken, func() error {
		attempt++
		if attempt > 1 {
			c.metrics.OrderNumberRetry()
		}
		order, rec, err := c.placeOrder(ctx, principal, addressID, strings.TrimSpace(in.Notes), lines)
		if err != nil {
			return err
		}
		created = order
		c.metrics.RecordOutboxEvents(rec.outbox)
		c.metrics.RecordTimelineEvents(rec.timeline)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	c.metrics.OrderCreated()
	c.logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"order_number": created.OrderNumber,
		"user_id":      created.UserID,
		"total":        domain.FormatAmount(created.TotalAmount, created.Currency),
	}).Info("order created")

	notify(c.logger, "order_placed", created.ID, func() error {
		return c.notifier.OrderPlaced(ctx, created)
	})
	return created, nil
}

func (c *Controller) placeOrder(ctx context.Context, principal domain.Principal, addressID, notes string, lines []CartLine) (domain.Order, *recorder, error) {
	var (
		order domain.Order
		rec   *recorder
	)

	err := c.store.WithinTx(ctx, func(tx domain.Tx) error {
		rec = &recorder{tx: tx}
		now := c.clock()

		// Сначала проверяем все товары, потом списываем: недостаток по любой
		// позиции не должен оставить частичных изменений даже внутри единицы.
		items := make([]domain.OrderItem, 0, len(lines))
		for _, line := range lines {
			product, err := tx.Products().GetForUpdate(ctx, line.ProductID)
			if errors.Is(err, domain.ErrProductNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrProductUnavailable, line.ProductID)
			}
			if err != nil {
				return fmt.Errorf("lock product %s: %w", line.ProductID, err)
			}
			if !product.IsActive {
				return fmt.Errorf("%w: %s", domain.ErrProductUnavailable, line.ProductID)
			}
			if !product.Available(line.Quantity) {
				return fmt.Errorf("%w: product %s has %d, requested %d",
					domain.ErrInsufficientStock, product.ID, product.StockQuantity, line.Quantity)
			}
			items = append(items, domain.OrderItem{
				ID:        uuid.NewString(),
				ProductID: product.ID,
				Quantity:  line.Quantity,
				UnitPrice: product.Price,
				CreatedAt: now,
			})
		}

		for _, item := range items {
			if err := tx.Products().AdjustStock(ctx, item.ProductID, -item.Quantity); err != nil {
				return fmt.Errorf("reserve stock for %s: %w", item.ProductID, err)
			}
		}

		number, err := c.sequence.Next(ctx, tx, now)
		if err != nil {
			return fmt.Errorf("next order number: %w", err)
		}

		order = domain.Order{
			ID:          uuid.NewString(),
			OrderNumber: number,
			UserID:      principal.ID,
			Items:       items,
			TotalAmount: domain.CalculateTotal(items),
			Currency:    c.currency,
			Status:      domain.OrderStatusPending,
			AddressID:   addressID,
			Notes:       notes,
			Version:     1,
			OrderedAt:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}

		if err := tx.Orders().Insert(ctx, order); err != nil {
			return err
		}
		if err := rec.emit(ctx, domain.AggregateOrder, order.ID, domain.EventOrderCreated, orderEvent(order, "", now)); err != nil {
			return err
		}
		return rec.note(ctx, order.ID, domain.TimelineOrderCreated, orderCreatedReason(order), now)
	})
	if err != nil {
		return domain.Order{}, nil, err
	}
	return order, rec, nil
}

func orderCreatedReason(order domain.Order) string {
	return fmt.Sprintf("order %s placed for %s", order.OrderNumber, domain.FormatAmount(order.TotalAmount, order.Currency))
}

// orderAge используется в логах для заказов, которые долго ждут оплаты.
func orderAge(order domain.Order, now time.Time) time.Duration {
	return now.Sub(order.OrderedAt).Round(time.Second)
}
