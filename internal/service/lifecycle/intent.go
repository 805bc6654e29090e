package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// PaymentIntent — данные, которые клиент передаёт в checkout шлюза.
type PaymentIntent struct {
	OrderID         string
	GatewayOrderRef string
	// Amount — сумма в минорных единицах.
	Amount   int64
	Currency string
	KeyID    string
}

func (c *Controller) intentFrom(payment domain.Payment) PaymentIntent {
	return PaymentIntent{
		OrderID:         payment.OrderID,
		GatewayOrderRef: payment.GatewayOrderRef,
		Amount:          payment.AmountMinor,
		Currency:        payment.Currency,
		KeyID:           c.keyID,
	}
}

// CreatePaymentIntent создаёт (или возвращает уже созданное) намерение оплаты
// для заказа в статусе PENDING. Шлюз вызывается вне единицы работы; если
// параллельный запрос успел записать свою ссылку, возвращается она.
func (c *Controller) CreatePaymentIntent(ctx context.Context, principal domain.Principal, orderID string) (PaymentIntent, error) {
	if err := requirePrincipal(principal); err != nil {
		return PaymentIntent{}, err
	}

	order, err := c.store.Orders().Get(ctx, orderID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if err := authorize(principal, order); err != nil {
		return PaymentIntent{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return PaymentIntent{}, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, order.OrderNumber, order.Status)
	}

	existing, err := c.store.Payments().GetByOrder(ctx, order.ID)
	switch {
	case err == nil && existing.GatewayOrderRef != "":
		return c.intentFrom(existing), nil
	case err != nil && !errors.Is(err, domain.ErrPaymentNotFound):
		return PaymentIntent{}, fmt.Errorf("load payment: %w", err)
	}

	amountMinor := domain.ToMinorUnits(order.TotalAmount)
	remote, err := c.gateway.CreateOrder(ctx, domain.GatewayOrderRequest{
		AmountMinor: amountMinor,
		Currency:    order.Currency,
		Receipt:     order.OrderNumber,
		Notes: map[string]string{
			"order_id": order.ID,
			"user_id":  order.UserID,
		},
	})
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("create gateway order: %w", err)
	}

	done := c.metrics.UnitStarted("create_payment_intent")
	defer done()

	var (
		payment domain.Payment
		created bool
		rec     *recorder
	)
	err = c.store.WithinTx(ctx, func(tx domain.Tx) error {
		rec = &recorder{tx: tx}
		now := c.clock()

		locked, err := tx.Orders().GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := authorize(principal, locked); err != nil {
			return err
		}
		if locked.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, locked.OrderNumber, locked.Status)
		}

		current, err := tx.Payments().GetByOrderForUpdate(ctx, locked.ID)
		switch {
		case err == nil && current.GatewayOrderRef != "":
			payment = current
			return nil
		case err == nil:
			current.GatewayOrderRef = remote.Ref
			current.UpdatedAt = now
			payment, err = tx.Payments().Save(ctx, current)
			if err != nil {
				return err
			}
		case errors.Is(err, domain.ErrPaymentNotFound):
			payment = domain.Payment{
				ID:              uuid.NewString(),
				OrderID:         locked.ID,
				GatewayOrderRef: remote.Ref,
				Amount:          locked.TotalAmount,
				AmountMinor:     amountMinor,
				Currency:        locked.Currency,
				Status:          domain.PaymentStatusPending,
				Version:         1,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if errs := payment.Validate(); len(errs) > 0 {
				return errors.Join(errs...)
			}
			if err := tx.Payments().Insert(ctx, payment); err != nil {
				return err
			}
		default:
			return fmt.Errorf("lock payment: %w", err)
		}

		created = true
		if err := rec.emit(ctx, domain.AggregatePayment, payment.ID, domain.EventPaymentInitiated, paymentEvent(payment, "", now)); err != nil {
			return err
		}
		return rec.note(ctx, locked.ID, domain.TimelinePaymentInitiated,
			fmt.Sprintf("payment intent %s for %s", payment.GatewayOrderRef, domain.FormatAmount(payment.Amount, payment.Currency)), now)
	})
	if errors.Is(err, domain.ErrPaymentAlreadyExists) || domain.IsVersionConflict(err) {
		// Гонку выиграл другой запрос: его намерение и есть результат.
		winner, readErr := c.store.Payments().GetByOrder(ctx, order.ID)
		if readErr != nil || winner.GatewayOrderRef == "" {
			return PaymentIntent{}, err
		}
		payment, created, err = winner, false, nil
	}
	if err != nil {
		return PaymentIntent{}, err
	}

	fields := log.Fields{
		"order_id":          order.ID,
		"gateway_order_ref": payment.GatewayOrderRef,
		"order_age":         orderAge(order, c.clock()),
	}
	if !created {
		c.logger.WithFields(fields).WithField("orphan_gateway_order_ref", remote.Ref).
			Warn("payment intent already existed, gateway order left unused")
		return c.intentFrom(payment), nil
	}

	c.metrics.PaymentIntentCreated()
	c.metrics.RecordOutboxEvents(rec.outbox)
	c.metrics.RecordTimelineEvents(rec.timeline)
	c.logger.WithFields(fields).Info("payment intent created")
	return c.intentFrom(payment), nil
}
