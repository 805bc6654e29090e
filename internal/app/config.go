package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы платёжного шлюза.
const (
	GatewayDriverFake = "fake"
	GatewayDriverHTTP = "http"
)

// Config описывает настройки запуска. Значения по умолчанию даёт
// DefaultConfig, cmd/storefront накладывает поверх них окружение и файл.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// DemoCatalog засевает memory-хранилище витриной для ручной проверки.
	DemoCatalog bool

	// RedisAddr включает номера заказов через INCR в Redis.
	RedisAddr string

	KafkaBrokers    string
	KafkaGroupID    string
	KafkaMaxRetries int

	AMQPURL           string
	NotificationQueue string

	GatewayDriver       string
	GatewayBaseURL      string
	GatewayKeyID        string
	GatewayKeySecret    string
	GatewayTimeout      time.Duration
	WebhookSecret       string
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	Currency           string
	OrderNumberRetries int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxLag       time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска без внешних
// зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaGroupID:    "storefront-payment-callbacks",
		KafkaMaxRetries: 3,

		NotificationQueue: "storefront.notifications",

		GatewayDriver:       GatewayDriverFake,
		GatewayTimeout:      10 * time.Second,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,

		JWTTTL: 2 * time.Hour,

		Currency:           "INR",
		OrderNumberRetries: 3,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxLag:       5 * time.Minute,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// Validate проверяет согласованность настроек до открытия подключений.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.GatewayDriver {
	case GatewayDriverFake:
	case GatewayDriverHTTP:
		if c.GatewayKeyID == "" || c.GatewayKeySecret == "" {
			errs = append(errs, errors.New("gateway key id and secret are required for http gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported gateway driver %q", c.GatewayDriver))
	}

	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("webhook secret is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.OrderNumberRetries < 1 {
		errs = append(errs, errors.New("order number retries must be at least 1"))
	}

	return errors.Join(errs...)
}

// brokerList разбирает список брокеров через запятую.
func (c Config) brokerList() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
