package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL — сколько хранится ответ, если срок не задан явно.
const DefaultIdempotencyTTL = 24 * time.Hour

type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed тоже кэшируется: повтор получает ту же ошибку.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s.Settled()
}

// Settled сообщает, что по ключу уже есть окончательный ответ.
func (s IdempotencyStatus) Settled() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord — состояние запроса с Idempotency-Key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         IdempotencyStatus
	Response       []byte
	ResponseStatus int
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IdempotencyOutcome — итог обработки, который сохраняется под ключом.
type IdempotencyOutcome struct {
	Status         IdempotencyStatus
	Response       []byte
	ResponseStatus int
}

func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}

// CachedResponse возвращает сохранённый ответ, если его можно отдать повторно.
func (r IdempotencyRecord) CachedResponse() ([]byte, int, bool) {
	if !r.Status.Settled() || len(r.Response) == 0 || r.ResponseStatus == 0 {
		return nil, 0, false
	}
	return r.Response, r.ResponseStatus, true
}

// ScopedIdempotencyKey ограничивает ключ одним пользователем, чтобы
// одинаковые ключи разных покупателей не пересекались.
func ScopedIdempotencyKey(principalID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return principalID + ":" + key
}

// NormalizeIdempotencyInput проверяет аргументы Reserve и подставляет срок по умолчанию.
func NormalizeIdempotencyInput(key, requestHash string, expiresAt, now time.Time) (string, string, time.Time, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return "", "", time.Time{}, ErrIdempotencyKeyRequired
	case requestHash == "":
		return "", "", time.Time{}, ErrIdempotencyRequestHashRequired
	}
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultIdempotencyTTL)
	}
	return key, requestHash, expiresAt, nil
}
