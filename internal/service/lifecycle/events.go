package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderEvent — полезная нагрузка событий заказа в outbox.
type OrderEvent struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	TotalAmount string    `json:"total_amount"`
	Currency    string    `json:"currency"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PaymentEvent — полезная нагрузка событий платежа в outbox.
type PaymentEvent struct {
	PaymentID         string    `json:"payment_id"`
	OrderID           string    `json:"order_id"`
	GatewayOrderRef   string    `json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef string    `json:"gateway_payment_ref,omitempty"`
	Status            string    `json:"status"`
	Amount            string    `json:"amount"`
	AmountMinor       int64     `json:"amount_minor"`
	Currency          string    `json:"currency"`
	Note              string    `json:"note,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func orderEvent(order domain.Order, reason string, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount.StringFixed(2),
		Currency:    order.Currency,
		Reason:      reason,
		OccurredAt:  at,
	}
}

func paymentEvent(payment domain.Payment, note string, at time.Time) PaymentEvent {
	return PaymentEvent{
		PaymentID:         payment.ID,
		OrderID:           payment.OrderID,
		GatewayOrderRef:   payment.GatewayOrderRef,
		GatewayPaymentRef: payment.GatewayPaymentRef,
		Status:            string(payment.Status),
		Amount:            payment.Amount.StringFixed(2),
		AmountMinor:       payment.AmountMinor,
		Currency:          payment.Currency,
		Note:              note,
		OccurredAt:        at,
	}
}

// recorder копит события outbox и таймлайна одной единицы работы.
type recorder struct {
	tx       domain.Tx
	outbox   int
	timeline int
}

func (r *recorder) emit(ctx context.Context, aggregateType, aggregateID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if _, err := r.tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	r.outbox++
	return nil
}

func (r *recorder) note(ctx context.Context, orderID, eventType, reason string, at time.Time) error {
	if err := r.tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: at,
	}); err != nil {
		return fmt.Errorf("append timeline %s: %w", eventType, err)
	}
	r.timeline++
	return nil
}
