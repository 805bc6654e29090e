package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// helper для создания базового заказа с двумя позициями.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	items := []domain.OrderItem{
		{ID: "item-1", ProductID: "prod-1", Quantity: 2, UnitPrice: decimal.RequireFromString("499.50"), CreatedAt: now},
		{ID: "item-2", ProductID: "prod-2", Quantity: 1, UnitPrice: decimal.RequireFromString("1000.00"), CreatedAt: now},
	}
	return domain.Order{
		ID:          "order-1",
		OrderNumber: "ORD-2026-0001",
		UserID:      "user-1",
		Items:       items,
		TotalAmount: domain.CalculateTotal(items),
		Currency:    domain.DefaultCurrency,
		Status:      domain.OrderStatusPending,
		AddressID:   "addr-1",
		OrderedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCalculateTotal(t *testing.T) {
	order := makeOrder()
	require.True(t, decimal.RequireFromString("1999.00").Equal(order.TotalAmount), "got %s", order.TotalAmount)
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	require.Empty(t, order.ValidateInvariants())
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no user",
			mut:  func(o *domain.Order) { o.UserID = "" },
			want: domain.ErrUserRequired,
		},
		{
			name: "no address",
			mut:  func(o *domain.Order) { o.AddressID = "" },
			want: domain.ErrInvalidAddress,
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
				o.TotalAmount = decimal.Zero
			},
			want: domain.ErrEmptyCart,
		},
		{
			name: "qty invalid",
			mut:  func(o *domain.Order) { o.Items[0].Quantity = 0 },
			want: domain.ErrInvalidQuantity,
		},
		{
			name: "price invalid",
			mut:  func(o *domain.Order) { o.Items[0].UnitPrice = decimal.NewFromInt(-5) },
			want: domain.ErrItemPriceInvalid,
		},
		{
			name: "total mismatch",
			mut:  func(o *domain.Order) { o.TotalAmount = decimal.NewFromInt(999) },
			want: domain.ErrAmountMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder().Clone()
			tc.mut(&order)
			require.Contains(t, order.ValidateInvariants(), tc.want)
		})
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
		want bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusConfirmed, true},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusConfirmed, domain.OrderStatusProcessing, true},
		{domain.OrderStatusConfirmed, domain.OrderStatusCancelled, true},
		{domain.OrderStatusProcessing, domain.OrderStatusShipped, true},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled, false},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, false},
		{domain.OrderStatusDelivered, domain.OrderStatusShipped, false},
		{domain.OrderStatusPending, domain.OrderStatusShipped, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrderStatusCanCancel(t *testing.T) {
	require.True(t, domain.OrderStatusPending.CanCancel())
	require.True(t, domain.OrderStatusConfirmed.CanCancel())
	require.False(t, domain.OrderStatusProcessing.CanCancel())
	require.False(t, domain.OrderStatusShipped.CanCancel())
	require.False(t, domain.OrderStatusDelivered.CanCancel())
	require.False(t, domain.OrderStatusCancelled.CanCancel())
}

func TestOrderAppendNote(t *testing.T) {
	order := makeOrder()
	order.AppendNote("leave at the door")
	order.AppendNote("   ")
	order.AppendNote("[cancelled] changed my mind")

	require.Equal(t, "leave at the door\n[cancelled] changed my mind", order.Notes)
}

func TestOrderCloneIsDeep(t *testing.T) {
	order := makeOrder()
	cancelledAt := time.Now().UTC()
	order.CancelledAt = &cancelledAt

	clone := order.Clone()
	clone.Items[0].Quantity = 42
	*clone.CancelledAt = cancelledAt.Add(time.Hour)

	require.Equal(t, int32(2), order.Items[0].Quantity)
	require.True(t, order.CancelledAt.Equal(cancelledAt))
}
