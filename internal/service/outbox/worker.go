// Package outbox доставляет события жизненного цикла заказа из таблицы
// outbox во внешний брокер.
package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Worker публикует события, записанные в одной транзакции с изменением
// заказа или платежа. Доставка at-least-once: потребители дедуплицируют
// по идентификатору события.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	now            func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.applyDefaults()
	return w
}

// Run опрашивает outbox сразу и затем раз в pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce доставляет одну порцию pending-событий и возвращает число
// опубликованных.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	w.reportBacklog(ctx)
	defer w.reportBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	for _, event := range events {
		published, err := w.deliver(ctx, event)
		if err != nil {
			// Контекст отменён: событие осталось pending.
			break
		}
		if published {
			sent++
		}
	}
	return sent
}

// deliver публикует одно событие и отмечает результат в outbox. Ошибка
// возвращается только при отмене ctx.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) (bool, error) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})

	publishErr := w.publish(ctx, event)
	if publishErr == nil {
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox message as sent")
			return false, nil
		}
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	entry.WithError(publishErr).Error("outbox publish failed after retries")
	w.metrics.Attempt("failed")

	if err := w.deadLetter(event, publishErr); err != nil {
		entry.WithError(err).Warn("failed to publish outbox message to DLQ")
		w.metrics.Attempt("dlq_failed")
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox message as failed")
	}
	return false, nil
}

func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(event); err == nil {
			w.metrics.Attempt("sent")
			return nil
		}
		w.metrics.Attempt("retry_error")

		if attempt == w.maxAttempts {
			return fmt.Errorf("publish failed after %d attempts: %w", attempt, err)
		}
		if delay := w.backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// backoff — пауза после attempt-й неудачной попытки: base, 2*base, 4*base...
// но не больше retryMaxDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay > 0 && delay < w.retryMaxDelay; i++ {
		delay *= 2
	}
	return min(delay, w.retryMaxDelay)
}

func (w *Worker) reportBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.Backlog(stats.PendingCount, age)
}

func (w *Worker) deadLetter(event domain.OutboxMessage, publishErr error) error {
	if w.dlq == nil {
		return nil
	}

	msg, err := domain.NewOutboxDeadLetter(event, publishErr, w.maxAttempts, w.now()).Message()
	if err != nil {
		return err
	}
	if err := w.dlq.Publish(msg); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
