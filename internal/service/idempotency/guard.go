package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Request описывает мутирующий запрос, защищённый ключом.
type Request struct {
	PrincipalID string
	Key         string
	Operation   string
	Body        []byte
}

// hash отличает повтор того же запроса от другого запроса с тем же ключом.
func (r Request) hash() string {
	sum := sha256.New()
	for _, part := range [][]byte{[]byte(r.Operation), []byte(r.PrincipalID), r.Body} {
		sum.Write(part)
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// Response — готовый ответ. Replayed выставляется, когда ответ взят из кэша.
type Response struct {
	Status   int
	Body     []byte
	Replayed bool
}

// Guard выполняет запрос не больше одного раза на пару (пользователь, ключ).
type Guard struct {
	repo    domain.IdempotencyRepository
	logger  *log.Entry
	metrics *metrics.IdempotencyMetrics
	ttl     time.Duration
	now     func() time.Time
}

func NewGuard(repo domain.IdempotencyRepository, opts ...Option) *Guard {
	o := buildOptions("idempotency-guard", opts)
	return &Guard{repo: repo, logger: o.logger, metrics: o.metrics, ttl: o.ttl, now: o.now}
}

// Do резервирует ключ, выполняет run и сохраняет его ответ. Ответы 4xx и
// 5xx тоже сохраняются: повтор получает ту же ошибку, а не второе выполнение.
//
// Пока первый запрос не завершён, повтор получает ErrIdempotencyKeyAlreadyExists.
// Тот же ключ с другим телом даёт ErrIdempotencyHashMismatch.
func (g *Guard) Do(ctx context.Context, req Request, run func() Response) (Response, error) {
	key := domain.ScopedIdempotencyKey(req.PrincipalID, req.Key)
	logger := g.logger.WithFields(log.Fields{"idempotency_key": req.Key, "operation": req.Operation})

	record, err := g.repo.Reserve(ctx, key, req.hash(), g.now().UTC().Add(g.ttl))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		g.metrics.Request("mismatch")
		return Response{}, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if body, status, ok := record.CachedResponse(); ok {
			g.metrics.Request("replayed")
			return Response{Status: status, Body: body, Replayed: true}, nil
		}
		if record.Status == domain.IdempotencyStatusProcessing {
			g.metrics.Request("in_flight")
			return Response{}, err
		}
		g.metrics.Request("error")
		return Response{}, fmt.Errorf("idempotency key %s settled without a cached response", req.Key)
	default:
		g.metrics.Request("error")
		return Response{}, fmt.Errorf("reserve idempotency key: %w", err)
	}

	resp := run()
	outcome := domain.IdempotencyOutcome{
		Status:         domain.IdempotencyStatusDone,
		Response:       resp.Body,
		ResponseStatus: resp.Status,
	}
	if resp.Status >= http.StatusBadRequest {
		outcome.Status = domain.IdempotencyStatusFailed
	}
	// Ответ уже получен: ошибка записи в кэш не должна его потерять.
	if err := g.repo.Settle(ctx, key, outcome); err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}
	g.metrics.Request("executed")
	return resp, nil
}
