package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CancelResult — итог отмены заказа.
type CancelResult struct {
	Order domain.Order
	// PaymentStatus — статус платежа после отмены, nil если платежа нет.
	PaymentStatus *domain.PaymentStatus
	// RefundNote заполняется, когда оплаченный платёж переведён в REFUNDED.
	RefundNote string
}

func cancelNote(at time.Time, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("[cancelled %s] %s", at.Format(time.RFC3339), reason)
}

func refundNote(payment domain.Payment, order domain.Order) string {
	return fmt.Sprintf("Refund of %s initiated for order %s",
		domain.FormatAmount(payment.Amount, payment.Currency), order.OrderNumber)
}

// restoreStock возвращает на склад количество по каждой позиции в порядке
// возрастания ID товара, как при создании заказа.
func restoreStock(ctx context.Context, tx domain.Tx, items []domain.OrderItem) error {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b domain.OrderItem) int { return strings.Compare(a.ProductID, b.ProductID) })
	for _, item := range sorted {
		if err := tx.Products().AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("restore stock for %s: %w", item.ProductID, err)
		}
	}
	return nil
}

// CancelOrder отменяет заказ в статусе PENDING или CONFIRMED: возвращает сток
// по всем позициям и переводит оплаченный платёж в REFUNDED. Повторная отмена
// возвращает ErrInvalidState без изменений.
func (c *Controller) CancelOrder(ctx context.Context, principal domain.Principal, orderID, reason string) (CancelResult, error) {
	if err := requirePrincipal(principal); err != nil {
		return CancelResult{}, err
	}

	done := c.metrics.UnitStarted("cancel_order")
	defer done()

	var (
		result   CancelResult
		refunded bool
		rec      *recorder
	)
	err := c.store.WithinTx(ctx, func(tx domain.Tx) error {
		rec = &recorder{tx: tx}
		now := c.clock()

		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorize(principal, order); err != nil {
			return err
		}
		if !order.Status.CanCancel() {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, order.OrderNumber, order.Status)
		}

		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		order.UpdatedAt = now
		order.AppendNote(cancelNote(now, reason))

		payment, err := tx.Payments().GetByOrderForUpdate(ctx, order.ID)
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
		case err != nil:
			return fmt.Errorf("lock payment: %w", err)
		default:
			// Незавершённый платёж не трогаем: если деньги всё же придут,
			// сверка увидит отменённый заказ и оформит возврат.
			if payment.Status == domain.PaymentStatusSuccess {
				payment.Status = domain.PaymentStatusRefunded
				payment.UpdatedAt = now
				payment, err = tx.Payments().Save(ctx, payment)
				if err != nil {
					return fmt.Errorf("refund payment: %w", err)
				}
				refunded = true
				result.RefundNote = refundNote(payment, order)
			}
			status := payment.Status
			result.PaymentStatus = &status
		}

		// Товары блокируются последними: заказ, платёж, затем каталог.
		if err := restoreStock(ctx, tx, order.Items); err != nil {
			return err
		}

		saved, err := tx.Orders().Save(ctx, order)
		if err != nil {
			return err
		}
		result.Order = saved

		if err := rec.emit(ctx, domain.AggregateOrder, saved.ID, domain.EventOrderCancelled, orderEvent(saved, reason, now)); err != nil {
			return err
		}
		if err := rec.note(ctx, saved.ID, domain.TimelineOrderCancelled, strings.TrimSpace(reason), now); err != nil {
			return err
		}
		if refunded {
			if err := rec.emit(ctx, domain.AggregatePayment, payment.ID, domain.EventPaymentRefunded, paymentEvent(payment, result.RefundNote, now)); err != nil {
				return err
			}
			if err := rec.note(ctx, saved.ID, domain.TimelinePaymentRefunded, result.RefundNote, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	c.metrics.OrderCancelled()
	if refunded {
		c.metrics.PaymentRefunded()
	}
	c.metrics.RecordOutboxEvents(rec.outbox)
	c.metrics.RecordTimelineEvents(rec.timeline)

	c.logger.WithFields(log.Fields{
		"order_id":     result.Order.ID,
		"order_number": result.Order.OrderNumber,
		"cancelled_by": principal.ID,
		"refunded":     refunded,
	}).Info("order cancelled")

	notify(c.logger, "order_cancelled", result.Order.ID, func() error {
		return c.notifier.OrderCancelled(ctx, result.Order, result.RefundNote)
	})
	return result, nil
}

// AdvanceStatus выполняет административный переход по графу статусов
// (CONFIRMED -> PROCESSING -> SHIPPED -> DELIVERED). Подтверждение и отмена
// через этот метод не выполняются: у них собственные операции.
func (c *Controller) AdvanceStatus(ctx context.Context, principal domain.Principal, orderID string, next domain.OrderStatus) (domain.Order, error) {
	if err := requirePrincipal(principal); err != nil {
		return domain.Order{}, err
	}
	if !principal.IsAdmin() {
		return domain.Order{}, domain.ErrForbidden
	}
	if !next.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, next)
	}
	if next == domain.OrderStatusConfirmed || next == domain.OrderStatusCancelled || next == domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: %s is not an administrative status", domain.ErrInvalidTransition, next)
	}

	done := c.metrics.UnitStarted("advance_status")
	defer done()

	var (
		updated  domain.Order
		previous domain.OrderStatus
		rec      *recorder
	)
	err := c.store.WithinTx(ctx, func(tx domain.Tx) error {
		rec = &recorder{tx: tx}
		now := c.clock()

		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, next)
		}

		previous = order.Status
		order.Status = next
		order.UpdatedAt = now
		updated, err = tx.Orders().Save(ctx, order)
		if err != nil {
			return err
		}

		reason := fmt.Sprintf("%s -> %s", previous, next)
		if err := rec.emit(ctx, domain.AggregateOrder, updated.ID, domain.EventOrderStatus, orderEvent(updated, reason, now)); err != nil {
			return err
		}
		return rec.note(ctx, updated.ID, domain.TimelineStatusChanged, reason, now)
	})
	if err != nil {
		return domain.Order{}, err
	}

	c.metrics.StatusTransition()
	c.metrics.RecordOutboxEvents(rec.outbox)
	c.metrics.RecordTimelineEvents(rec.timeline)
	c.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"from":     previous,
		"to":       next,
		"admin_id": principal.ID,
	}).Info("order status changed")
	return updated, nil
}
