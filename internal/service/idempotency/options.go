// Package idempotency обслуживает заголовок Idempotency-Key: Guard выполняет
// мутирующий запрос не больше одного раза на ключ, CleanupWorker удаляет
// истёкшие ключи.
package idempotency

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

type options struct {
	logger    *log.Entry
	metrics   *metrics.IdempotencyMetrics
	now       func() time.Time
	ttl       time.Duration
	interval  time.Duration
	batchSize int
}

// Option настраивает Guard и CleanupWorker.
type Option func(*options)

func WithLogger(logger *log.Entry) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.IdempotencyMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTTL задаёт, сколько Guard хранит ответ под ключом.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithInterval задаёт паузу между циклами очистки.
func WithInterval(interval time.Duration) Option {
	return func(o *options) { o.interval = interval }
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом.
func WithBatchSize(batchSize int) Option {
	return func(o *options) { o.batchSize = batchSize }
}

func buildOptions(component string, opts []Option) options {
	o := options{
		ttl:       domain.DefaultIdempotencyTTL,
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = log.WithField("component", component)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.ttl <= 0 {
		o.ttl = domain.DefaultIdempotencyTTL
	}
	if o.interval <= 0 {
		o.interval = defaultCleanupInterval
	}
	if o.batchSize <= 0 {
		o.batchSize = defaultCleanupBatchSize
	}
	return o
}
