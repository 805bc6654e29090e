package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/service/gateway"
	"github.com/vladislavdragonenkov/storefront/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestNewDependencies(t *testing.T) {
	logger := log.WithField("test", "dependencies")
	cfg := validConfig()

	deps, err := NewDependencies(cfg, memory.NewStore(), prometheus.NewRegistry(), logger)
	require.NoError(t, err)
	defer deps.Close()

	require.NotNil(t, deps.Controller)
	require.NotNil(t, deps.Reconciler)
	require.NotNil(t, deps.Tokens)
	require.IsType(t, &gateway.Fake{}, deps.Gateway)
	require.NotNil(t, deps.Notifier)
	if deps.Logger != logger {
		t.Error("Logger should be the same instance as passed")
	}
}

func TestNewDependencies_WithNilLogger(t *testing.T) {
	deps, err := NewDependencies(validConfig(), memory.NewStore(), prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	defer deps.Close()

	if deps.Logger == nil {
		t.Error("Logger should be initialized even when nil is passed")
	}
}

func TestBuildGateway_HTTPIsGuarded(t *testing.T) {
	cfg := validConfig()
	cfg.GatewayDriver = GatewayDriverHTTP
	cfg.GatewayKeyID = "rzp_test_key"
	cfg.GatewayKeySecret = "rzp_test_secret"

	gw := buildGateway(cfg, log.WithField("test", "gateway"))
	require.IsType(t, &gateway.Guarded{}, gw)
}

func TestNewDependencies_DemoFlow(t *testing.T) {
	ctx := context.Background()
	cfg := validConfig()
	cfg.DemoCatalog = true

	runtimeDeps, err := initRuntimeDependencies(ctx, cfg, log.WithField("test", "demo"))
	require.NoError(t, err)

	deps, err := NewDependencies(cfg, runtimeDeps.store, prometheus.NewRegistry(), log.WithField("test", "demo"))
	require.NoError(t, err)
	defer deps.Close()

	principal := domain.Principal{ID: demoUserID, Role: domain.RoleUser}
	order, err := deps.Controller.CreateOrder(ctx, principal, lifecycle.CreateOrderInput{
		AddressID: demoAddressID,
		Items:     []lifecycle.CartLine{{ProductID: "prod-mug", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "1999.00", order.TotalAmount.StringFixed(2))
	require.Equal(t, "INR", order.Currency)

	intent, err := deps.Controller.CreatePaymentIntent(ctx, principal, order.ID)
	require.NoError(t, err)
	require.EqualValues(t, 199900, intent.Amount)

	result, err := deps.Reconciler.Verify(ctx, lifecycle.Callback{
		GatewayOrderRef:   intent.GatewayOrderRef,
		GatewayPaymentRef: "pay_demo",
		Signature:         gateway.Sign(cfg.WebhookSecret, intent.GatewayOrderRef, "pay_demo"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, result.OrderStatus)

	handler := healthcheck.NewHandler("test")
	deps.RegisterCheckers(handler)
	handler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(runtimeDeps.outboxRepo, cfg.OutboxMaxLag))
	require.Equal(t, healthcheck.StatusHealthy, handler.Run(ctx).Status)
}
