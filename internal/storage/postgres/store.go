package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout              = 5 * time.Second
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// queryer — общий набор методов *sqlx.DB и *sqlx.Tx, которым пользуются репозитории.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store оборачивает подключение к PostgreSQL и реализует domain.Storage.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB возвращает sqlx-подключение, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Строки, которые
// меняются, читаются через SELECT ... FOR UPDATE внутри fn.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&unitTx{q: tx, now: s.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Orders возвращает репозиторий заказов вне транзакции.
func (s *Store) Orders() domain.OrderRepository {
	return &orderRepository{q: s.db}
}

// Payments возвращает репозиторий платежей вне транзакции.
func (s *Store) Payments() domain.PaymentRepository {
	return &paymentRepository{q: s.db}
}

// Products возвращает каталог вне транзакции.
func (s *Store) Products() domain.ProductRepository {
	return &productRepository{q: s.db}
}

// Timeline возвращает таймлайн заказов.
func (s *Store) Timeline() domain.TimelineRepository {
	return &timelineRepository{q: s.db, now: s.now}
}

// Outbox возвращает outbox для воркера публикации.
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxRepository{q: s.db, now: s.now}
}

// Addresses возвращает адресную книгу.
func (s *Store) Addresses() domain.AddressBook {
	return &addressBook{q: s.db}
}

// Idempotency возвращает хранилище ключей идемпотентности.
func (s *Store) Idempotency() domain.IdempotencyRepository {
	return &idempotencyRepository{q: s.db, now: s.now}
}

type unitTx struct {
	q   *sqlx.Tx
	now func() time.Time
}

func (t *unitTx) Orders() domain.OrderRepository {
	return &orderRepository{q: t.q}
}

func (t *unitTx) Payments() domain.PaymentRepository {
	return &paymentRepository{q: t.q}
}

func (t *unitTx) Products() domain.ProductRepository {
	return &productRepository{q: t.q}
}

func (t *unitTx) Outbox() domain.OutboxWriter {
	return &outboxRepository{q: t.q, now: t.now}
}

func (t *unitTx) Timeline() domain.TimelineWriter {
	return &timelineRepository{q: t.q, now: t.now}
}

var (
	_ domain.Storage = (*Store)(nil)
	_ domain.Tx      = (*unitTx)(nil)
)
