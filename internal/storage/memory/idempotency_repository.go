package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// idempotencyKeys держит ключи в map под собственным мьютексом: они живут вне
// единицы работы заказа и не откатываются вместе с ней.
type idempotencyKeys struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory хранилище ключей. now == nil
// означает системные часы.
func NewIdempotencyRepository(now func() time.Time) domain.IdempotencyRepository {
	return newIdempotencyKeys(now)
}

func newIdempotencyKeys(now func() time.Time) *idempotencyKeys {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &idempotencyKeys{records: make(map[string]domain.IdempotencyRecord), now: now}
}

func (k *idempotencyKeys) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	now := k.now()
	key, requestHash, expiresAt, err := domain.NormalizeIdempotencyInput(key, requestHash, expiresAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.records[key]; ok && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return copyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	k.records[key] = record
	return record, nil
}

func (k *idempotencyKeys) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (k *idempotencyKeys) Settle(_ context.Context, key string, outcome domain.IdempotencyOutcome) error {
	if !outcome.Status.Settled() {
		return domain.ErrIdempotencyOutcomeInvalid
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = outcome.Status
	record.Response = append([]byte(nil), outcome.Response...)
	record.ResponseStatus = outcome.ResponseStatus
	record.UpdatedAt = k.now()
	k.records[key] = record
	return nil
}

// DeleteExpired удаляет истёкшие ключи, начиная с самых старых.
func (k *idempotencyKeys) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = k.now()
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range k.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(k.records, record.Key)
	}
	return len(expired), nil
}

func copyRecord(record domain.IdempotencyRecord) domain.IdempotencyRecord {
	record.Response = append([]byte(nil), record.Response...)
	return record
}

var _ domain.IdempotencyRepository = (*idempotencyKeys)(nil)
