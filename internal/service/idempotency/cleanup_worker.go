package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// CleanupWorker периодически удаляет истёкшие ключи, чтобы таблица
// idempotency_keys не росла бесконечно.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	metrics   *metrics.IdempotencyMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewCleanupWorker(repo domain.IdempotencyRepository, opts ...Option) *CleanupWorker {
	o := buildOptions("idempotency-cleanup-worker", opts)
	return &CleanupWorker{
		repo:      repo,
		logger:    o.logger,
		metrics:   o.metrics,
		interval:  o.interval,
		batchSize: o.batchSize,
		now:       o.now,
	}
}

// Run чистит сразу при старте и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.Sweep(ctx, w.now().UTC())
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		w.metrics.CleanupRun(false, deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
	default:
		w.metrics.CleanupRun(true, deleted)
		if deleted > 0 {
			w.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
		}
	}
}

// Sweep удаляет ключи, истёкшие к моменту before, порциями по batchSize,
// пока очередная порция не окажется неполной.
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now().UTC()
	}

	total := 0
	for batch := w.batchSize; batch == w.batchSize; {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var err error
		batch, err = w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += batch
		w.metrics.Deleted(batch)
	}
	return total, nil
}
