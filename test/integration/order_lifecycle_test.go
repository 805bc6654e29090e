package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/gateway"
	"github.com/vladislavdragonenkov/storefront/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const webhookSecret = "whsec_integration"

var (
	customer = domain.Principal{ID: "customer-123", Role: domain.RoleUser}
	stranger = domain.Principal{ID: "customer-456", Role: domain.RoleUser}
	operator = domain.Principal{ID: "admin-1", Role: domain.RoleAdmin}
)

// backend — хранилище под тестом и способ положить в него каталог.
type backend interface {
	domain.Storage
	Outbox() domain.OutboxRepository
	seed(t *testing.T, products []domain.Product, addresses map[string]string)
}

type memoryBackend struct {
	*memory.Store
}

func (b memoryBackend) seed(_ *testing.T, products []domain.Product, addresses map[string]string) {
	for _, product := range products {
		b.PutProduct(product)
	}
	for addressID, userID := range addresses {
		b.AddAddress(userID, addressID)
	}
}

type postgresBackend struct {
	*postgres.Store
}

func (b postgresBackend) seed(t *testing.T, products []domain.Product, addresses map[string]string) {
	ctx := context.Background()
	for _, product := range products {
		require.NoError(t, b.UpsertProduct(ctx, product))
	}
	for addressID, userID := range addresses {
		require.NoError(t, b.AddAddress(ctx, userID, addressID))
	}
}

// recordingPublisher собирает события, которые outbox worker отдал наружу.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) typesFor(aggregateID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, event := range p.events {
		if event.AggregateID == aggregateID {
			types = append(types, event.EventType)
		}
	}
	return types
}

// OrderLifecycleTestSuite прогоняет заказ через создание, оплату и отмену
// поверх настоящего хранилища и outbox worker.
type OrderLifecycleTestSuite struct {
	suite.Suite
	open func(t *testing.T) backend

	store      backend
	gateway    *gateway.Fake
	controller *lifecycle.Controller
	reconciler *lifecycle.Reconciler
	publisher  *recordingPublisher
	worker     *outbox.Worker
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	suite.store = suite.open(suite.T())
	suite.store.seed(suite.T(), []domain.Product{
		{ID: "laptop-pro", Name: "Laptop Pro", Price: decimal.RequireFromString("1999.00"), StockQuantity: 3, IsActive: true},
		{ID: "mouse-wireless", Name: "Wireless mouse", Price: decimal.RequireFromString("49.99"), StockQuantity: 10, IsActive: true},
	}, map[string]string{
		"addr-home":  customer.ID,
		"addr-other": stranger.ID,
	})

	suite.gateway = gateway.NewFake()
	suite.controller = lifecycle.NewController(suite.store, suite.gateway, nil, nil,
		lifecycle.WithLogger(logger),
		lifecycle.WithKeyID("rzp_test_integration"),
		lifecycle.WithRetry(lifecycle.RetryConfig{
			MaxAttempts:   10,
			InitialDelay:  time.Millisecond,
			MaxDelay:      50 * time.Millisecond,
			BackoffFactor: 2,
		}),
	)
	suite.reconciler = lifecycle.NewReconciler(suite.store, suite.gateway, nil, webhookSecret,
		lifecycle.WithLogger(logger),
	)
	suite.publisher = &recordingPublisher{}
	suite.worker = outbox.NewWorker(suite.store.Outbox(), suite.publisher,
		outbox.WithLogger(logger),
		outbox.WithBatchSize(100),
		outbox.WithRetryBaseDelay(time.Millisecond),
	)
}

func (suite *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	ctx := context.Background()

	// 1. Создаём заказ
	order, err := suite.controller.CreateOrder(ctx, customer, lifecycle.CreateOrderInput{
		AddressID: "addr-home",
		Items: []lifecycle.CartLine{
			{ProductID: "laptop-pro", Quantity: 1},
			{ProductID: "mouse-wireless", Quantity: 2},
		},
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, order.Status)
	require.Equal(suite.T(), "2098.98", order.TotalAmount.StringFixed(2))
	suite.requireStock("laptop-pro", 2)
	suite.requireStock("mouse-wireless", 8)

	// 2. Намерение оплаты
	intent, err := suite.controller.CreatePaymentIntent(ctx, customer, order.ID)
	require.NoError(suite.T(), err)
	require.EqualValues(suite.T(), 209898, intent.Amount)

	// 3. Подписанный callback шлюза
	result := suite.pay(intent, "pay_success_1")
	require.Equal(suite.T(), domain.OrderStatusConfirmed, result.OrderStatus)
	require.Equal(suite.T(), domain.PaymentStatusSuccess, result.PaymentStatus)

	// Повторная доставка ничего не меняет
	replay := suite.pay(intent, "pay_success_1")
	require.True(suite.T(), replay.Replayed)

	view, err := suite.controller.GetOrder(ctx, customer, order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusConfirmed, view.Order.Status)
	require.NotNil(suite.T(), view.Payment)
	require.Equal(suite.T(), domain.PaymentStatusSuccess, view.Payment.Status)
	require.ElementsMatch(suite.T(), []string{
		domain.TimelineOrderCreated,
		domain.TimelinePaymentInitiated,
		domain.TimelinePaymentCaptured,
		domain.TimelineOrderConfirmed,
	}, timelineTypes(view.Timeline))

	// 4. Outbox доходит до брокера
	suite.drainOutbox()
	require.Equal(suite.T(), []string{domain.EventOrderCreated, domain.EventOrderConfirmed}, suite.publisher.typesFor(order.ID))
	require.Equal(suite.T(), []string{domain.EventPaymentInitiated, domain.EventPaymentCaptured}, suite.publisher.typesFor(view.Payment.ID))

	create, _ := suite.gateway.Calls()
	require.Equal(suite.T(), 1, create)
}

func (suite *OrderLifecycleTestSuite) TestPaidOrderCancellation() {
	ctx := context.Background()

	order := suite.placeOrder("laptop-pro", 2)
	intent, err := suite.controller.CreatePaymentIntent(ctx, customer, order.ID)
	require.NoError(suite.T(), err)
	suite.pay(intent, "pay_cancel_1")
	suite.requireStock("laptop-pro", 1)

	result, err := suite.controller.CancelOrder(ctx, customer, order.ID, "Customer changed mind")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusCancelled, result.Order.Status)
	require.NotNil(suite.T(), result.PaymentStatus)
	require.Equal(suite.T(), domain.PaymentStatusRefunded, *result.PaymentStatus)
	require.Contains(suite.T(), result.RefundNote, "Refund of 3998.00 INR initiated for order "+order.OrderNumber)
	require.Contains(suite.T(), result.Order.Notes, "Customer changed mind")
	suite.requireStock("laptop-pro", 3)

	// Повторная отмена запрещена
	_, err = suite.controller.CancelOrder(ctx, customer, order.ID, "again")
	require.ErrorIs(suite.T(), err, domain.ErrInvalidState)

	view, err := suite.controller.GetOrder(ctx, customer, order.ID)
	require.NoError(suite.T(), err)
	hasCancel := false
	for _, event := range view.Timeline {
		if event.Type == domain.TimelineOrderCancelled {
			hasCancel = true
			require.Equal(suite.T(), "Customer changed mind", event.Reason)
		}
	}
	require.True(suite.T(), hasCancel, "timeline should contain order_cancelled")

	suite.drainOutbox()
	require.Contains(suite.T(), suite.publisher.typesFor(order.ID), domain.EventOrderCancelled)
	require.Contains(suite.T(), suite.publisher.typesFor(view.Payment.ID), domain.EventPaymentRefunded)
}

func (suite *OrderLifecycleTestSuite) TestPendingOrderCancellation() {
	ctx := context.Background()

	order := suite.placeOrder("mouse-wireless", 4)
	suite.requireStock("mouse-wireless", 6)

	result, err := suite.controller.CancelOrder(ctx, operator, order.ID, "")
	require.NoError(suite.T(), err)
	require.Nil(suite.T(), result.PaymentStatus)
	require.Empty(suite.T(), result.RefundNote)
	suite.requireStock("mouse-wireless", 10)

	// Оплата отменённого заказа не начинается
	_, err = suite.controller.CreatePaymentIntent(ctx, customer, order.ID)
	require.ErrorIs(suite.T(), err, domain.ErrInvalidState)
}

func (suite *OrderLifecycleTestSuite) TestTamperedCallbackChangesNothing() {
	ctx := context.Background()

	order := suite.placeOrder("laptop-pro", 1)
	intent, err := suite.controller.CreatePaymentIntent(ctx, customer, order.ID)
	require.NoError(suite.T(), err)

	_, err = suite.reconciler.Verify(ctx, lifecycle.Callback{
		GatewayOrderRef:   intent.GatewayOrderRef,
		GatewayPaymentRef: "pay_forged",
		Signature:         gateway.Sign("wrong-secret", intent.GatewayOrderRef, "pay_forged"),
	})
	require.ErrorIs(suite.T(), err, domain.ErrInvalidSignature)

	view, err := suite.controller.GetOrder(ctx, customer, order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, view.Order.Status)
	require.Equal(suite.T(), domain.PaymentStatusPending, view.Payment.Status)
}

func (suite *OrderLifecycleTestSuite) TestForeignOrderIsHidden() {
	ctx := context.Background()

	order := suite.placeOrder("mouse-wireless", 1)

	_, err := suite.controller.GetOrder(ctx, stranger, order.ID)
	require.ErrorIs(suite.T(), err, domain.ErrForbidden)
	_, err = suite.controller.CancelOrder(ctx, stranger, order.ID, "not mine")
	require.ErrorIs(suite.T(), err, domain.ErrForbidden)

	_, err = suite.controller.CreateOrder(ctx, customer, lifecycle.CreateOrderInput{
		AddressID: "addr-other",
		Items:     []lifecycle.CartLine{{ProductID: "mouse-wireless", Quantity: 1}},
	})
	require.Error(suite.T(), err)
	suite.requireStock("mouse-wireless", 9)
}

func (suite *OrderLifecycleTestSuite) TestConcurrentOrdersNeverOversell() {
	const buyers = 6

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.controller.CreateOrder(context.Background(), customer, lifecycle.CreateOrderInput{
				AddressID: "addr-home",
				Items:     []lifecycle.CartLine{{ProductID: "laptop-pro", Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				placed++
				return
			}
			if domain.KindOf(err) == domain.KindValidation {
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(suite.T(), 3, placed)
	require.Equal(suite.T(), buyers-3, rejected)
	suite.requireStock("laptop-pro", 0)

	orders, err := suite.controller.ListOrders(context.Background(), customer, 0)
	require.NoError(suite.T(), err)
	numbers := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		numbers[order.OrderNumber] = struct{}{}
	}
	require.Len(suite.T(), numbers, 3)
}

func (suite *OrderLifecycleTestSuite) TestCancelRacesWithPaymentConfirmation() {
	ctx := context.Background()

	for round := range 10 {
		order := suite.placeOrder("laptop-pro", 2)
		intent, err := suite.controller.CreatePaymentIntent(ctx, customer, order.ID)
		require.NoError(suite.T(), err)

		start := make(chan struct{})
		var (
			wg        sync.WaitGroup
			cancelErr error
			verifyErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = suite.controller.CancelOrder(ctx, customer, order.ID, "race")
		}()
		go func() {
			defer wg.Done()
			<-start
			paymentRef := fmt.Sprintf("pay_race_%d", round)
			_, verifyErr = suite.reconciler.Verify(ctx, lifecycle.Callback{
				GatewayOrderRef:   intent.GatewayOrderRef,
				GatewayPaymentRef: paymentRef,
				Signature:         gateway.Sign(webhookSecret, intent.GatewayOrderRef, paymentRef),
			})
		}()
		close(start)
		wg.Wait()

		require.NoError(suite.T(), cancelErr, "round %d", round)
		require.NoError(suite.T(), verifyErr, "round %d", round)

		view, err := suite.controller.GetOrder(ctx, customer, order.ID)
		require.NoError(suite.T(), err)
		require.Equal(suite.T(), domain.OrderStatusCancelled, view.Order.Status)
		require.NotNil(suite.T(), view.Payment)
		require.Equal(suite.T(), domain.PaymentStatusRefunded, view.Payment.Status)
		suite.requireStock("laptop-pro", 3)

		suite.drainOutbox()
		refunds := 0
		for _, eventType := range suite.publisher.typesFor(view.Payment.ID) {
			if eventType == domain.EventPaymentRefunded {
				refunds++
			}
		}
		require.Equal(suite.T(), 1, refunds, "round %d", round)
	}
}

// Вспомогательные методы

func (suite *OrderLifecycleTestSuite) placeOrder(productID string, quantity int32) domain.Order {
	order, err := suite.controller.CreateOrder(context.Background(), customer, lifecycle.CreateOrderInput{
		AddressID: "addr-home",
		Items:     []lifecycle.CartLine{{ProductID: productID, Quantity: quantity}},
	})
	require.NoError(suite.T(), err)
	return order
}

func (suite *OrderLifecycleTestSuite) pay(intent lifecycle.PaymentIntent, paymentRef string) lifecycle.VerifyResult {
	result, err := suite.reconciler.Verify(context.Background(), lifecycle.Callback{
		GatewayOrderRef:   intent.GatewayOrderRef,
		GatewayPaymentRef: paymentRef,
		Signature:         gateway.Sign(webhookSecret, intent.GatewayOrderRef, paymentRef),
	})
	require.NoError(suite.T(), err)
	return result
}

func (suite *OrderLifecycleTestSuite) requireStock(productID string, want int32) {
	product, err := suite.store.Products().Get(context.Background(), productID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), want, product.StockQuantity, "stock of %s", productID)
}

// drainOutbox гоняет worker, пока в outbox есть необработанные события.
func (suite *OrderLifecycleTestSuite) drainOutbox() {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if suite.worker.ProcessOnce(context.Background()) == 0 {
			stats, err := suite.store.Outbox().Stats(context.Background())
			require.NoError(suite.T(), err)
			if stats.PendingCount == 0 {
				return
			}
		}
	}
	suite.T().Fatalf("outbox was not drained within 5s")
}

func timelineTypes(events []domain.TimelineEvent) []string {
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

func openPostgres(t *testing.T) backend {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.MigrateUp(ctx, 0))
	_, err = store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			idempotency_keys,
			outbox_messages,
			timeline_events,
			payments,
			order_items,
			orders,
			addresses,
			products
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	return postgresBackend{Store: store}
}

func TestOrderLifecycle(t *testing.T) {
	suite.Run(t, &OrderLifecycleTestSuite{
		open: func(*testing.T) backend { return memoryBackend{Store: memory.NewStore()} },
	})
}

func TestOrderLifecycle_Postgres(t *testing.T) {
	suite.Run(t, &OrderLifecycleTestSuite{open: openPostgres})
}
