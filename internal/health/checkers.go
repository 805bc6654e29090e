package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// PingChecker: компонент здоров, если ping вернул nil. Используется для
// Postgres, Redis, RabbitMQ и продьюсера Kafka.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// NewSimpleChecker — для клиентов без контекстного ping.
func NewSimpleChecker(name string, checkFn func() error) *PingChecker {
	return NewPingChecker(name, func(context.Context) error { return checkFn() })
}

func (c *PingChecker) Check(ctx context.Context) Check {
	return timed(c.name, func() (Status, string) {
		if err := c.ping(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	})
}

type OutboxStatsSource interface {
	Stats(ctx context.Context) (domain.OutboxStats, error)
}

// OutboxBacklogChecker переводит сервис в degraded, когда самое старое
// pending-событие ждёт дольше maxAge. Заказы при этом продолжают
// приниматься, отстают только подписчики.
type OutboxBacklogChecker struct {
	source OutboxStatsSource
	maxAge time.Duration
	now    func() time.Time
}

func NewOutboxBacklogChecker(source OutboxStatsSource, maxAge time.Duration) *OutboxBacklogChecker {
	return &OutboxBacklogChecker{source: source, maxAge: maxAge, now: time.Now}
}

func (c *OutboxBacklogChecker) Check(ctx context.Context) Check {
	return timed("outbox", func() (Status, string) {
		stats, err := c.source.Stats(ctx)
		if err != nil {
			return StatusUnhealthy, err.Error()
		}
		if c.maxAge <= 0 || stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
			return StatusHealthy, ""
		}
		if lag := c.now().Sub(stats.OldestPendingAt); lag > c.maxAge {
			return StatusDegraded, fmt.Sprintf("%d pending events, oldest %s", stats.PendingCount, lag.Truncate(time.Second))
		}
		return StatusHealthy, ""
	})
}

func timed(name string, probe func() (Status, string)) Check {
	start := time.Now()
	status, message := probe()
	return Check{
		Name:       name,
		Status:     status,
		Message:    message,
		DurationMs: time.Since(start).Milliseconds(),
	}
}
