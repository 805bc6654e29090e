package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Insert сохраняет новый заказ вместе с позициями. Занятый номер заказа
	// возвращается как ErrOrderNumberTaken.
	Insert(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// CountSince считает заказы, оформленные начиная с момента since.
	CountSince(ctx context.Context, since time.Time) (int64, error)
	// Save применяет обновления к заказу с учётом optimistic locking и
	// увеличивает Version.
	Save(ctx context.Context, order Order) (Order, error)
}

// PaymentRepository описывает хранилище платежей (не более одного на заказ).
type PaymentRepository interface {
	// Insert создаёт платёж. Нарушение уникальности order_id или ссылки шлюза
	// возвращается как ErrPaymentAlreadyExists.
	Insert(ctx context.Context, payment Payment) error
	GetByOrder(ctx context.Context, orderID string) (Payment, error)
	GetByOrderForUpdate(ctx context.Context, orderID string) (Payment, error)
	GetByGatewayOrderRef(ctx context.Context, ref string) (Payment, error)
	// Save обновляет платёж с проверкой версии.
	Save(ctx context.Context, payment Payment) (Payment, error)
}

// ProductRepository — контракт каталога, который потребляет ядро.
type ProductRepository interface {
	Get(ctx context.Context, id string) (Product, error)
	GetForUpdate(ctx context.Context, id string) (Product, error)
	// AdjustStock атомарно меняет остаток на delta. Уход в минус отклоняется
	// с ErrInsufficientStock.
	AdjustStock(ctx context.Context, id string, delta int32) error
}

// AddressBook проверяет принадлежность адреса пользователю.
type AddressBook interface {
	Owns(ctx context.Context, userID, addressID string) (bool, error)
}

// OutboxWriter пишет события в transactional outbox внутри единицы работы.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxRepository позволяет воркеру забирать события для публикации.
type OutboxRepository interface {
	OutboxWriter
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineWriter добавляет события жизненного цикла заказа.
type TimelineWriter interface {
	Append(ctx context.Context, event TimelineEvent) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	TimelineWriter
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ответы на мутирующие запросы по Idempotency-Key.
//
// Reserve занимает ключ в статусе processing. Если ключ уже занят и не истёк,
// возвращается существующая запись вместе с ErrIdempotencyKeyAlreadyExists
// или ErrIdempotencyHashMismatch. Истёкший ключ переиспользуется.
type IdempotencyRepository interface {
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	Settle(ctx context.Context, key string, outcome IdempotencyOutcome) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Tx — набор репозиториев, работающих внутри одной единицы работы.
type Tx interface {
	Orders() OrderRepository
	Payments() PaymentRepository
	Products() ProductRepository
	Outbox() OutboxWriter
	Timeline() TimelineWriter
}

// UnitOfWork открывает атомарную единицу работы. Ошибка из fn откатывает все
// изменения заказа, платежа и стока целиком.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Storage объединяет единицу работы и чтение вне транзакции.
type Storage interface {
	UnitOfWork
	Orders() OrderRepository
	Payments() PaymentRepository
	Products() ProductRepository
	Timeline() TimelineRepository
	Addresses() AddressBook
}
