package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func sampleOrder(id, number, userID string, at time.Time) domain.Order {
	items := []domain.OrderItem{{
		ID:        id + "-item",
		ProductID: "prod-1",
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("499.50"),
		CreatedAt: at,
	}}
	return domain.Order{
		ID:          id,
		OrderNumber: number,
		UserID:      userID,
		Items:       items,
		TotalAmount: domain.CalculateTotal(items),
		Currency:    domain.DefaultCurrency,
		Status:      domain.OrderStatusPending,
		AddressID:   "addr-1",
		OrderedAt:   at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestStore_WithinTxCommitsAllChanges(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod-1", Name: "Mug", Price: decimal.RequireFromString("499.50"), StockQuantity: 5, IsActive: true})

	now := time.Now().UTC()
	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.Products().AdjustStock(ctx, "prod-1", -2); err != nil {
			return err
		}
		if err := tx.Orders().Insert(ctx, sampleOrder("order-1", "ORD-2026-0001", "user-1", now)); err != nil {
			return err
		}
		_, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateOrder, AggregateID: "order-1", EventType: domain.EventOrderCreated})
		return err
	})
	require.NoError(t, err)

	product, err := store.Products().Get(ctx, "prod-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, product.StockQuantity)

	order, err := store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "ORD-2026-0001", order.OrderNumber)

	pending, err := store.Outbox().PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestStore_WithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod-1", Price: decimal.NewFromInt(10), StockQuantity: 1, IsActive: true})

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.Products().AdjustStock(ctx, "prod-1", -1))
		require.NoError(t, tx.Orders().Insert(ctx, sampleOrder("order-1", "ORD-2026-0001", "user-1", time.Now().UTC())))
		return boom
	})
	require.ErrorIs(t, err, boom)

	product, err := store.Products().Get(ctx, "prod-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, product.StockQuantity)

	_, err = store.Orders().Get(ctx, "order-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestStore_WithinTxHonoursCancelledContext(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.WithinTx(ctx, func(domain.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestStore_ProductStockNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod-1", Price: decimal.NewFromInt(10), StockQuantity: 1, IsActive: true})

	err := store.Products().AdjustStock(ctx, "prod-1", -2)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	err = store.Products().AdjustStock(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestOrderRepository_NumberUniquenessAndVersioning(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := store.Orders()
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, sampleOrder("order-1", "ORD-2026-0001", "user-1", now)))
	err := repo.Insert(ctx, sampleOrder("order-2", "ORD-2026-0001", "user-1", now))
	require.ErrorIs(t, err, domain.ErrOrderNumberTaken)

	order, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)

	order.Status = domain.OrderStatusCancelled
	order.AppendNote("changed my mind")
	saved, err := repo.Save(ctx, order)
	require.NoError(t, err)
	require.Equal(t, order.Version+1, saved.Version)

	// Повторное сохранение устаревшей версии.
	_, err = repo.Save(ctx, order)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
}

func TestOrderRepository_ListByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := store.Orders()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, sampleOrder("order-1", "ORD-2026-0001", "user-1", base)))
	require.NoError(t, repo.Insert(ctx, sampleOrder("order-2", "ORD-2026-0002", "user-1", base.Add(time.Minute))))
	require.NoError(t, repo.Insert(ctx, sampleOrder("order-3", "ORD-2026-0003", "user-2", base.Add(2*time.Minute))))

	orders, err := repo.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "order-2", orders[0].ID)
	require.Equal(t, "order-1", orders[1].ID)

	orders, err = repo.ListByUser(ctx, "user-1", 1)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	count, err := repo.CountSince(ctx, domain.YearStart(base))
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
}

func TestPaymentRepository_OnePerOrderAndRefImmutable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := store.Payments()
	now := time.Now().UTC()

	payment := domain.Payment{
		ID:        "pay-1",
		OrderID:   "order-1",
		Amount:    decimal.NewFromInt(999),
		Currency:  domain.DefaultCurrency,
		Status:    domain.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Insert(ctx, payment))

	dup := payment
	dup.ID = "pay-2"
	require.ErrorIs(t, repo.Insert(ctx, dup), domain.ErrPaymentAlreadyExists)

	stored, err := repo.GetByOrder(ctx, "order-1")
	require.NoError(t, err)
	stored.GatewayOrderRef = "order_ABC"
	stored, err = repo.Save(ctx, stored)
	require.NoError(t, err)

	byRef, err := repo.GetByGatewayOrderRef(ctx, "order_ABC")
	require.NoError(t, err)
	require.Equal(t, "pay-1", byRef.ID)

	stored.GatewayOrderRef = "order_XYZ"
	_, err = repo.Save(ctx, stored)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = repo.GetByGatewayOrderRef(ctx, "order_missing")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestOutboxRepository_PendingOrderAndMarking(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := store.Outbox()

	first, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateOrder, AggregateID: "order-1", EventType: domain.EventOrderCreated})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	second, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateOrder, AggregateID: "order-1", EventType: domain.EventOrderCancelled})
	require.NoError(t, err)

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, second.ID, pending[1].ID)

	require.NoError(t, repo.MarkSent(ctx, first.ID))
	require.NoError(t, repo.MarkFailed(ctx, second.ID))
	require.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())
}

func TestTimelineAndAddresses(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.Timeline().Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: domain.TimelineOrderCreated}))
	events, err := store.Timeline().List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.False(t, events[0].Occurred.IsZero())

	store.AddAddress("user-1", "addr-1")
	owns, err := store.Addresses().Owns(ctx, "user-1", "addr-1")
	require.NoError(t, err)
	require.True(t, owns)

	owns, err = store.Addresses().Owns(ctx, "user-2", "addr-1")
	require.NoError(t, err)
	require.False(t, owns)
}
