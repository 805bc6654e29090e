package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const idempotencyColumns = `key, request_hash, status, response, response_status, expires_at, created_at, updated_at`

type idempotencyRow struct {
	Key            string        `db:"key"`
	RequestHash    string        `db:"request_hash"`
	Status         string        `db:"status"`
	Response       []byte        `db:"response"`
	ResponseStatus sql.NullInt64 `db:"response_status"`
	ExpiresAt      time.Time     `db:"expires_at"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

func (row idempotencyRow) record() (domain.IdempotencyRecord, error) {
	record := domain.IdempotencyRecord{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		Status:      domain.IdempotencyStatus(row.Status),
		Response:    row.Response,
		ExpiresAt:   row.ExpiresAt.UTC(),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", row.Status, row.Key)
	}
	if row.ResponseStatus.Valid {
		record.ResponseStatus = int(row.ResponseStatus.Int64)
	}
	return record, nil
}

type idempotencyRepository struct {
	q   queryer
	now func() time.Time
}

// Reserve вставляет ключ или перехватывает истёкший одним запросом; если
// RETURNING пуст, ключ занят живой записью.
func (r *idempotencyRepository) Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	now := r.now()
	key, requestHash, expiresAt, err := domain.NormalizeIdempotencyInput(key, requestHash, expiresAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row idempotencyRow
	err = r.q.GetContext(ctx, &row, `
		INSERT INTO idempotency_keys (key, request_hash, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    status = EXCLUDED.status,
		    response = NULL,
		    response_status = NULL,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.expires_at <= $5
		RETURNING `+idempotencyColumns,
		key, requestHash, string(domain.IdempotencyStatusProcessing), expiresAt, now)
	switch {
	case err == nil:
		return row.record()
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key: %w", err)
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load reserved idempotency key: %w", err)
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row idempotencyRow
	err := r.q.GetContext(ctx, &row, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	return row.record()
}

func (r *idempotencyRepository) Settle(ctx context.Context, key string, outcome domain.IdempotencyOutcome) error {
	if !outcome.Status.Settled() {
		return domain.ErrIdempotencyOutcomeInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response = $3, response_status = $4, updated_at = $5
		WHERE key = $1
	`, key, string(outcome.Status), outcome.Response, outcome.ResponseStatus, r.now())
	if err != nil {
		return fmt.Errorf("settle idempotency key: %w", err)
	}
	return requireAffected(res, domain.ErrIdempotencyKeyNotFound)
}

// DeleteExpired удаляет истёкшие ключи, начиная с самых старых. limit <= 0
// снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT NULLIF($2, 0)
		)
	`, before, max(limit, 0))
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
