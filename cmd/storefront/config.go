package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

// Префикс переменных окружения: STOREFRONT_HTTP_ADDR и т.д.
const envPrefix = "STOREFRONT"

// Ключи настроек. В файле конфигурации пишутся как есть, в окружении —
// с префиксом и в верхнем регистре.
const (
	keyLogLevel  = "log_level"
	keyLogFormat = "log_format"

	keyHTTPAddr    = "http_addr"
	keyGRPCAddr    = "grpc_addr"
	keyMetricsAddr = "metrics_addr"

	keyStorageDriver       = "storage_driver"
	keyPostgresDSN         = "postgres_dsn"
	keyPostgresAutoMigrate = "postgres_auto_migrate"
	keyDemoCatalog         = "demo_catalog"
	keyRedisAddr           = "redis_addr"

	keyKafkaBrokers    = "kafka_brokers"
	keyKafkaGroupID    = "kafka_group_id"
	keyKafkaMaxRetries = "kafka_max_retries"

	keyAMQPURL           = "amqp_url"
	keyNotificationQueue = "notification_queue"

	keyGatewayDriver       = "gateway_driver"
	keyGatewayBaseURL      = "gateway_base_url"
	keyGatewayKeyID        = "gateway_key_id"
	keyGatewayKeySecret    = "gateway_key_secret"
	keyGatewayTimeout      = "gateway_timeout"
	keyWebhookSecret       = "webhook_secret"
	keyBreakerMaxFailures  = "breaker_max_failures"
	keyBreakerResetTimeout = "breaker_reset_timeout"

	keyJWTSecret = "jwt_secret"
	keyJWTTTL    = "jwt_ttl"

	keyCurrency           = "currency"
	keyOrderNumberRetries = "order_number_retries"

	keyOutboxPollInterval = "outbox_poll_interval"
	keyOutboxBatchSize    = "outbox_batch_size"
	keyOutboxMaxAttempts  = "outbox_max_attempts"
	keyOutboxRetryDelay   = "outbox_retry_delay"
	keyOutboxMaxLag       = "outbox_max_lag"

	keyIdempotencyTTL              = "idempotency_ttl"
	keyIdempotencyCleanupInterval  = "idempotency_cleanup_interval"
	keyIdempotencyCleanupBatchSize = "idempotency_cleanup_batch_size"
)

// setting применяет одно значение к конфигу. Ошибка разбора не роняет
// запуск: значение остаётся по умолчанию, а в лог уходит предупреждение.
type setting struct {
	key   string
	apply func(cfg *app.Config, raw string) error
}

func stringSetting(key string, field func(*app.Config) *string) setting {
	return setting{key: key, apply: func(cfg *app.Config, raw string) error {
		*field(cfg) = raw
		return nil
	}}
}

func lowerSetting(key string, field func(*app.Config) *string) setting {
	return setting{key: key, apply: func(cfg *app.Config, raw string) error {
		*field(cfg) = strings.ToLower(raw)
		return nil
	}}
}

func boolSetting(key string, field func(*app.Config) *bool) setting {
	return setting{key: key, apply: func(cfg *app.Config, raw string) error {
		value, err := parseBool(raw)
		if err != nil {
			return err
		}
		*field(cfg) = value
		return nil
	}}
}

func positiveIntSetting(key string, field func(*app.Config) *int) setting {
	return setting{key: key, apply: func(cfg *app.Config, raw string) error {
		value, err := parseInt(raw, func(v int) bool { return v > 0 }, "must be > 0")
		if err != nil {
			return err
		}
		*field(cfg) = value
		return nil
	}}
}

func durationSetting(key string, field func(*app.Config) *time.Duration, valid func(time.Duration) bool, rule string) setting {
	return setting{key: key, apply: func(cfg *app.Config, raw string) error {
		value, err := parseDuration(raw, valid, rule)
		if err != nil {
			return err
		}
		*field(cfg) = value
		return nil
	}}
}

func positive(v time.Duration) bool    { return v > 0 }
func nonNegative(v time.Duration) bool { return v >= 0 }

var settings = []setting{
	stringSetting(keyHTTPAddr, func(c *app.Config) *string { return &c.HTTPAddr }),
	stringSetting(keyGRPCAddr, func(c *app.Config) *string { return &c.GRPCAddr }),
	stringSetting(keyMetricsAddr, func(c *app.Config) *string { return &c.MetricsAddr }),

	lowerSetting(keyStorageDriver, func(c *app.Config) *string { return &c.StorageDriver }),
	stringSetting(keyPostgresDSN, func(c *app.Config) *string { return &c.PostgresDSN }),
	boolSetting(keyPostgresAutoMigrate, func(c *app.Config) *bool { return &c.PostgresAutoMigrate }),
	boolSetting(keyDemoCatalog, func(c *app.Config) *bool { return &c.DemoCatalog }),
	stringSetting(keyRedisAddr, func(c *app.Config) *string { return &c.RedisAddr }),

	stringSetting(keyKafkaBrokers, func(c *app.Config) *string { return &c.KafkaBrokers }),
	stringSetting(keyKafkaGroupID, func(c *app.Config) *string { return &c.KafkaGroupID }),
	positiveIntSetting(keyKafkaMaxRetries, func(c *app.Config) *int { return &c.KafkaMaxRetries }),

	stringSetting(keyAMQPURL, func(c *app.Config) *string { return &c.AMQPURL }),
	stringSetting(keyNotificationQueue, func(c *app.Config) *string { return &c.NotificationQueue }),

	lowerSetting(keyGatewayDriver, func(c *app.Config) *string { return &c.GatewayDriver }),
	stringSetting(keyGatewayBaseURL, func(c *app.Config) *string { return &c.GatewayBaseURL }),
	stringSetting(keyGatewayKeyID, func(c *app.Config) *string { return &c.GatewayKeyID }),
	stringSetting(keyGatewayKeySecret, func(c *app.Config) *string { return &c.GatewayKeySecret }),
	durationSetting(keyGatewayTimeout, func(c *app.Config) *time.Duration { return &c.GatewayTimeout }, positive, "must be > 0"),
	stringSetting(keyWebhookSecret, func(c *app.Config) *string { return &c.WebhookSecret }),
	positiveIntSetting(keyBreakerMaxFailures, func(c *app.Config) *int { return &c.BreakerMaxFailures }),
	durationSetting(keyBreakerResetTimeout, func(c *app.Config) *time.Duration { return &c.BreakerResetTimeout }, positive, "must be > 0"),

	stringSetting(keyJWTSecret, func(c *app.Config) *string { return &c.JWTSecret }),
	durationSetting(keyJWTTTL, func(c *app.Config) *time.Duration { return &c.JWTTTL }, positive, "must be > 0"),

	{key: keyCurrency, apply: func(c *app.Config, raw string) error {
		if len(raw) != 3 {
			return errors.New("must be a 3-letter ISO code")
		}
		c.Currency = strings.ToUpper(raw)
		return nil
	}},
	positiveIntSetting(keyOrderNumberRetries, func(c *app.Config) *int { return &c.OrderNumberRetries }),

	durationSetting(keyOutboxPollInterval, func(c *app.Config) *time.Duration { return &c.OutboxPollInterval }, positive, "must be > 0"),
	positiveIntSetting(keyOutboxBatchSize, func(c *app.Config) *int { return &c.OutboxBatchSize }),
	positiveIntSetting(keyOutboxMaxAttempts, func(c *app.Config) *int { return &c.OutboxMaxAttempts }),
	durationSetting(keyOutboxRetryDelay, func(c *app.Config) *time.Duration { return &c.OutboxRetryDelay }, nonNegative, "must be >= 0"),
	durationSetting(keyOutboxMaxLag, func(c *app.Config) *time.Duration { return &c.OutboxMaxLag }, positive, "must be > 0"),

	durationSetting(keyIdempotencyTTL, func(c *app.Config) *time.Duration { return &c.IdempotencyTTL }, positive, "must be > 0"),
	durationSetting(keyIdempotencyCleanupInterval, func(c *app.Config) *time.Duration { return &c.IdempotencyCleanupInterval }, positive, "must be > 0"),
	positiveIntSetting(keyIdempotencyCleanupBatchSize, func(c *app.Config) *int { return &c.IdempotencyCleanupBatchSize }),
}

// newViper настраивает чтение окружения и, если путь задан, файла.
func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "text")

	if configFile == "" {
		return v, nil
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configFile, err)
	}
	return v, nil
}

// readConfig накладывает значения из viper на app.DefaultConfig.
// Возвращает предупреждения по значениям, которые не удалось разобрать.
func readConfig(v *viper.Viper) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	for _, s := range settings {
		if !v.IsSet(s.key) {
			continue
		}
		raw := strings.TrimSpace(v.GetString(s.key))
		if raw == "" {
			continue
		}
		if err := s.apply(&cfg, raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default", s.key, err))
		}
	}

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
