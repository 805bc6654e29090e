package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/lifecycle"
)

type cartLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type createOrderRequest struct {
	AddressID string            `json:"address_id"`
	Items     []cartLineRequest `json:"items"`
	Notes     string            `json:"notes"`
}

func (r createOrderRequest) input() lifecycle.CreateOrderInput {
	lines := make([]lifecycle.CartLine, 0, len(r.Items))
	for _, item := range r.Items {
		lines = append(lines, lifecycle.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lifecycle.CreateOrderInput{AddressID: r.AddressID, Items: lines, Notes: r.Notes}
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type paymentIntentRequest struct {
	OrderID string `json:"order_id"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type orderItemResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type orderResponse struct {
	ID          string              `json:"id"`
	OrderNumber string              `json:"order_number"`
	UserID      string              `json:"user_id"`
	Status      string              `json:"status"`
	TotalAmount string              `json:"total_amount"`
	Currency    string              `json:"currency"`
	AddressID   string              `json:"address_id"`
	Notes       string              `json:"notes,omitempty"`
	Items       []orderItemResponse `json:"items"`
	Version     int64               `json:"version"`
	OrderedAt   time.Time           `json:"ordered_at"`
	CancelledAt *time.Time          `json:"cancelled_at,omitempty"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Subtotal:  item.Subtotal().StringFixed(2),
		})
	}
	return orderResponse{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount.StringFixed(2),
		Currency:    order.Currency,
		AddressID:   order.AddressID,
		Notes:       order.Notes,
		Items:       items,
		Version:     order.Version,
		OrderedAt:   order.OrderedAt,
		CancelledAt: order.CancelledAt,
	}
}

type paymentResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	GatewayOrderRef   string     `json:"razorpay_order_id,omitempty"`
	GatewayPaymentRef string     `json:"razorpay_payment_id,omitempty"`
	Method            string     `json:"method,omitempty"`
	CardNetwork       string     `json:"card_network,omitempty"`
	CardLast4         string     `json:"card_last4,omitempty"`
	Bank              string     `json:"bank,omitempty"`
	Wallet            string     `json:"wallet,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

func toPaymentResponse(payment domain.Payment) paymentResponse {
	return paymentResponse{
		ID:                payment.ID,
		Status:            string(payment.Status),
		Amount:            payment.Amount.StringFixed(2),
		Currency:          payment.Currency,
		GatewayOrderRef:   payment.GatewayOrderRef,
		GatewayPaymentRef: payment.GatewayPaymentRef,
		Method:            payment.Details.Method,
		CardNetwork:       payment.Details.CardNetwork,
		CardLast4:         payment.Details.CardLast4,
		Bank:              payment.Details.Bank,
		Wallet:            payment.Details.Wallet,
		PaidAt:            payment.PaidAt,
	}
}

type timelineResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

type orderDetailResponse struct {
	Order    orderResponse      `json:"order"`
	Payment  *paymentResponse   `json:"payment,omitempty"`
	Timeline []timelineResponse `json:"timeline"`
}

func toOrderDetail(view lifecycle.OrderView) orderDetailResponse {
	resp := orderDetailResponse{
		Order:    toOrderResponse(view.Order),
		Timeline: make([]timelineResponse, 0, len(view.Timeline)),
	}
	if view.Payment != nil {
		payment := toPaymentResponse(*view.Payment)
		resp.Payment = &payment
	}
	for _, event := range view.Timeline {
		resp.Timeline = append(resp.Timeline, timelineResponse{Type: event.Type, Reason: event.Reason, Occurred: event.Occurred})
	}
	return resp
}

type cancelResponse struct {
	Order         orderResponse `json:"order"`
	PaymentStatus string        `json:"payment_status,omitempty"`
	RefundNote    string        `json:"refund_note,omitempty"`
}

type intentResponse struct {
	OrderID         string `json:"order_id"`
	GatewayOrderRef string `json:"razorpay_order_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	KeyID           string `json:"key_id"`
}

type verifyResponse struct {
	OrderID       string `json:"order_id"`
	OrderStatus   string `json:"order_status"`
	PaymentStatus string `json:"payment_status"`
	Replayed      bool   `json:"replayed"`
}
