package domain

import (
	"context"
	"fmt"
	"time"
)

// GatewayOrderRequest — параметры намерения оплаты у шлюза.
type GatewayOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// GatewayOrder — намерение оплаты, созданное шлюзом.
type GatewayOrder struct {
	Ref         string
	AmountMinor int64
	Currency    string
	Status      string
}

// GatewayPayment — сведения о платеже, которые шлюз отдаёт по ссылке платежа.
type GatewayPayment struct {
	Ref         string
	OrderRef    string
	Status      string
	AmountMinor int64
	Details     PaymentDetails
}

// PaymentGateway описывает взаимодействие с платёжным провайдером.
type PaymentGateway interface {
	// CreateOrder создаёт удалённое намерение оплаты.
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	// FetchPayment возвращает метаданные платежа (способ оплаты, карта, банк).
	FetchPayment(ctx context.Context, paymentRef string) (GatewayPayment, error)
}

// Notifier отправляет уведомления покупателю. Ошибки не влияют на
// зафиксированное состояние.
type Notifier interface {
	OrderPlaced(ctx context.Context, order Order) error
	OrderCancelled(ctx context.Context, order Order, refundNote string) error
	PaymentConfirmed(ctx context.Context, order Order, payment Payment) error
}

// OrderNumberSequence выдаёт человекочитаемые номера заказов.
type OrderNumberSequence interface {
	Next(ctx context.Context, tx Tx, at time.Time) (string, error)
}

// FormatOrderNumber формирует номер вида ORD-2026-0042.
func FormatOrderNumber(year int, seq int64) string {
	return fmt.Sprintf("ORD-%d-%04d", year, seq)
}

// YearStart возвращает 1 января года момента at в UTC.
func YearStart(at time.Time) time.Time {
	return time.Date(at.UTC().Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// Типы событий outbox.
const (
	EventOrderCreated     = "order.created"
	EventOrderConfirmed   = "order.confirmed"
	EventOrderCancelled   = "order.cancelled"
	EventOrderStatus      = "order.status_changed"
	EventPaymentInitiated = "payment.initiated"
	EventPaymentCaptured  = "payment.captured"
	EventPaymentRefunded  = "payment.refunded"
)

// Типы агрегатов outbox.
const (
	AggregateOrder   = "order"
	AggregatePayment = "payment"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
