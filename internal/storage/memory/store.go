package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// state — всё изменяемое состояние in-memory хранилища. Единица работы
// получает копию и подменяет ею оригинал только при успешном завершении.
type state struct {
	orders         map[string]domain.Order
	orderNumbers   map[string]string
	payments       map[string]domain.Payment
	paymentByOrder map[string]string
	paymentByRef   map[string]string
	products       map[string]domain.Product
	outbox         map[string]*outboxRecord
	outboxSeq      int64
	timeline       map[string][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		orders:         make(map[string]domain.Order),
		orderNumbers:   make(map[string]string),
		payments:       make(map[string]domain.Payment),
		paymentByOrder: make(map[string]string),
		paymentByRef:   make(map[string]string),
		products:       make(map[string]domain.Product),
		outbox:         make(map[string]*outboxRecord),
		timeline:       make(map[string][]domain.TimelineEvent),
	}
}

func (s *state) clone() *state {
	dst := newState()
	for id, order := range s.orders {
		dst.orders[id] = order.Clone()
	}
	for number, id := range s.orderNumbers {
		dst.orderNumbers[number] = id
	}
	for id, payment := range s.payments {
		dst.payments[id] = payment.Clone()
	}
	for orderID, id := range s.paymentByOrder {
		dst.paymentByOrder[orderID] = id
	}
	for ref, id := range s.paymentByRef {
		dst.paymentByRef[ref] = id
	}
	for id, product := range s.products {
		dst.products[id] = product
	}
	for id, rec := range s.outbox {
		copied := *rec
		dst.outbox[id] = &copied
	}
	dst.outboxSeq = s.outboxSeq
	for orderID, events := range s.timeline {
		dst.timeline[orderID] = append([]domain.TimelineEvent(nil), events...)
	}
	return dst
}

// noopLocker используется репозиториями внутри единицы работы: блокировку
// хранилища уже держит WithinTx.
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// Store — in-memory реализация domain.Storage. Единица работы сериализована
// одним мьютексом, что соответствует построчным блокировкам в PostgreSQL с
// запасом.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time

	addresses *addressBook
	idem      *idempotencyKeys
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	s := &Store{
		state:     newState(),
		now:       func() time.Time { return time.Now().UTC() },
		addresses: newAddressBook(),
	}
	s.idem = newIdempotencyKeys(func() time.Time { return s.now() })
	return s
}

func (s *Store) current() *state {
	return s.state
}

// WithinTx выполняет fn над копией состояния и фиксирует её, если fn
// завершилась без ошибки. Вызывать репозитории Store из fn нельзя: мьютекс
// не реентерабелен.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&unitTx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Orders возвращает репозиторий заказов вне транзакции.
func (s *Store) Orders() domain.OrderRepository {
	return &orderRepository{mu: &s.mu, st: s.current}
}

// Payments возвращает репозиторий платежей вне транзакции.
func (s *Store) Payments() domain.PaymentRepository {
	return &paymentRepository{mu: &s.mu, st: s.current}
}

// Products возвращает каталог вне транзакции.
func (s *Store) Products() domain.ProductRepository {
	return &productRepository{mu: &s.mu, st: s.current}
}

// Timeline возвращает таймлайн заказов.
func (s *Store) Timeline() domain.TimelineRepository {
	return &timelineRepository{mu: &s.mu, st: s.current, now: s.now}
}

// Outbox возвращает outbox для воркера публикации.
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxRepository{mu: &s.mu, st: s.current, now: s.now}
}

// Addresses возвращает адресную книгу.
func (s *Store) Addresses() domain.AddressBook {
	return s.addresses
}

// Idempotency возвращает хранилище ключей идемпотентности.
func (s *Store) Idempotency() domain.IdempotencyRepository {
	return s.idem
}

// PutProduct добавляет или заменяет товар каталога.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[product.ID] = product
}

// AddAddress регистрирует адрес пользователя.
func (s *Store) AddAddress(userID, addressID string) {
	s.addresses.add(userID, addressID)
}

type unitTx struct {
	st  *state
	now func() time.Time
}

func (t *unitTx) stateFn() *state { return t.st }

func (t *unitTx) Orders() domain.OrderRepository {
	return &orderRepository{mu: noopLocker{}, st: t.stateFn}
}

func (t *unitTx) Payments() domain.PaymentRepository {
	return &paymentRepository{mu: noopLocker{}, st: t.stateFn}
}

func (t *unitTx) Products() domain.ProductRepository {
	return &productRepository{mu: noopLocker{}, st: t.stateFn}
}

func (t *unitTx) Outbox() domain.OutboxWriter {
	return &outboxRepository{mu: noopLocker{}, st: t.stateFn, now: t.now}
}

func (t *unitTx) Timeline() domain.TimelineWriter {
	return &timelineRepository{mu: noopLocker{}, st: t.stateFn, now: t.now}
}

var (
	_ domain.Storage = (*Store)(nil)
	_ domain.Tx      = (*unitTx)(nil)
)
