package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/gateway"
	"github.com/vladislavdragonenkov/storefront/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/storefront/internal/service/notify"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

// Dependencies — собранное ядро: контроллер, сверка платежей и то, что
// нужно закрыть при остановке.
type Dependencies struct {
	Controller *lifecycle.Controller
	Reconciler *lifecycle.Reconciler
	Tokens     *auth.Tokens
	Gateway    domain.PaymentGateway
	Notifier   domain.Notifier
	Logger     *log.Entry

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

// NewDependencies собирает ядро поверх уже открытого хранилища.
func NewDependencies(cfg Config, store domain.Storage, registerer prometheus.Registerer, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Logger:   logger,
		checkers: make(map[string]healthcheck.Checker),
	}

	deps.Gateway = buildGateway(cfg, logger)

	notifier, err := deps.buildNotifier(cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Notifier = notifier

	sequence, err := deps.buildSequence(cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}

	retry := lifecycle.DefaultRetryConfig()
	retry.MaxAttempts = cfg.OrderNumberRetries

	lifecycleMetrics := metrics.NewLifecycleMetricsWithRegisterer(registerer)
	deps.Controller = lifecycle.NewController(store, deps.Gateway, notifier, sequence,
		lifecycle.WithLogger(logger.WithField("component", "order-lifecycle")),
		lifecycle.WithMetrics(lifecycleMetrics),
		lifecycle.WithRetry(retry),
		lifecycle.WithKeyID(cfg.GatewayKeyID),
		lifecycle.WithCurrency(cfg.Currency),
	)
	deps.Reconciler = lifecycle.NewReconciler(store, deps.Gateway, notifier, cfg.WebhookSecret,
		lifecycle.WithLogger(logger.WithField("component", "payment-reconciler")),
		lifecycle.WithMetrics(lifecycleMetrics),
	)
	deps.Tokens = auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)

	return deps, nil
}

// buildGateway выбирает реализацию шлюза. HTTP-клиент всегда закрыт
// circuit breaker'ом.
func buildGateway(cfg Config, logger *log.Entry) domain.PaymentGateway {
	if cfg.GatewayDriver != GatewayDriverHTTP {
		logger.Warn("using fake payment gateway")
		return gateway.NewFake()
	}

	client := gateway.NewHTTPClient(gateway.HTTPConfig{
		BaseURL:   cfg.GatewayBaseURL,
		KeyID:     cfg.GatewayKeyID,
		KeySecret: cfg.GatewayKeySecret,
		Timeout:   cfg.GatewayTimeout,
	}, logger.WithField("component", "payment-gateway"))
	breaker := gateway.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger.WithField("component", "gateway-breaker"))
	return gateway.NewGuarded(client, breaker)
}

func (d *Dependencies) buildNotifier(cfg Config) (domain.Notifier, error) {
	if cfg.AMQPURL == "" {
		return notify.NewLogNotifier(d.Logger.WithField("component", "notifier")), nil
	}

	conn, err := notify.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, conn.Close)
	d.checkers["rabbitmq"] = healthcheck.NewSimpleChecker("rabbitmq", func() error {
		if conn.IsClosed() {
			return fmt.Errorf("rabbitmq connection is closed")
		}
		return nil
	})

	d.Logger.WithField("queue", cfg.NotificationQueue).Info("rabbitmq notifier initialized")
	return notify.NewAMQPNotifier(notify.ConnectionOpener(conn), cfg.NotificationQueue, d.Logger.WithField("component", "notifier")), nil
}

// buildSequence возвращает nil, если Redis не настроен: контроллер тогда
// берёт CountSequence.
func (d *Dependencies) buildSequence(cfg Config) (domain.OrderNumberSequence, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	pool, err := redis.NewPool(cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, pool.Close)
	d.checkers["redis"] = healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
		return redis.Ping(ctx, pool)
	})

	d.Logger.WithField("addr", cfg.RedisAddr).Info("redis order number sequence initialized")
	return redis.NewSequence(pool), nil
}

// RegisterCheckers добавляет проверки внешних подключений ядра.
func (d *Dependencies) RegisterCheckers(handler *healthcheck.Handler) {
	for name, checker := range d.checkers {
		handler.RegisterChecker(name, checker)
	}
}

// Close закрывает подключения в обратном порядке.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
