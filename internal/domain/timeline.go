package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated     = "order_created"
	TimelineOrderConfirmed   = "order_confirmed"
	TimelineOrderCancelled   = "order_cancelled"
	TimelineStatusChanged    = "status_changed"
	TimelinePaymentInitiated = "payment_initiated"
	TimelinePaymentCaptured  = "payment_captured"
	TimelinePaymentRefunded  = "payment_refunded"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
