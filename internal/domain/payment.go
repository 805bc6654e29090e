package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus описывает состояние платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — намерение оплаты создано, деньги не поступили.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusProcessing — шлюз принял платёж, ждём окончательный ответ.
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	// PaymentStatusSuccess — платёж подтверждён подписанным callback.
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	// PaymentStatusFailed — шлюз отклонил платёж.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusRefunded — возврат причитается клиенту (сам перевод денег
	// выполняется отдельно).
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusSuccess,
		PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// AwaitingCapture сообщает, может ли платёж перейти в SUCCESS.
func (s PaymentStatus) AwaitingCapture() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// PaymentDetails — метаданные способа оплаты, которые сообщает шлюз.
type PaymentDetails struct {
	Method      string
	CardNetwork string
	CardLast4   string
	Bank        string
	Wallet      string
}

// Payment описывает платёж, связанный с заказом один к одному.
type Payment struct {
	ID      string
	OrderID string
	// GatewayOrderRef — идентификатор намерения оплаты у шлюза. После
	// установки не меняется.
	GatewayOrderRef   string
	GatewayPaymentRef string
	Amount            decimal.Decimal
	AmountMinor       int64
	Currency          string
	Status            PaymentStatus
	Details           PaymentDetails
	PaidAt            *time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if p.Amount.IsNegative() || p.AmountMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	if !p.Status.Valid() {
		errs = append(errs, ErrInvalidState)
	}

	return errs
}

// Clone возвращает копию платежа.
func (p Payment) Clone() Payment {
	dst := p
	if p.PaidAt != nil {
		paidAt := *p.PaidAt
		dst.PaidAt = &paidAt
	}
	return dst
}
