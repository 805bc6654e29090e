package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка пустой корзины.
	ErrEmptyCart = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrInvalidQuantity = errors.New("item quantity must be greater than zero")
	// Адрес не найден или принадлежит другому пользователю.
	ErrInvalidAddress = errors.New("address is invalid")
	// Товар отсутствует в каталоге или снят с продажи.
	ErrProductUnavailable = errors.New("product is unavailable")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total amount must be non-negative")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего идентификатора заказа в платежах.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrInvalidRequest — некорректное тело запроса.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthenticated — нет или невалидны учётные данные.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden — пользователь не владеет заказом и не является администратором.
	ErrForbidden = errors.New("access to the order is forbidden")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrProductNotFound возвращается, если товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock — запрошено больше, чем есть на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNumberTaken — номер заказа уже занят (гонка генерации номера).
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrPaymentAlreadyExists — для заказа уже есть платёж.
	ErrPaymentAlreadyExists = errors.New("payment already exists for order")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrPaymentVersionConflict — конфликт версий платежа.
	ErrPaymentVersionConflict = errors.New("payment version conflict")

	// ErrInvalidState — операция недопустима в текущем статусе.
	ErrInvalidState = errors.New("operation is not allowed in current state")
	// ErrInvalidTransition — недопустимый переход статуса заказа.
	ErrInvalidTransition = errors.New("order status transition is not allowed")

	// ErrInvalidSignature — подпись callback шлюза не прошла проверку.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrGatewayUnavailable — временная ошибка платёжного шлюза.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован другим запросом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyOutcomeInvalid — ключ закрывается статусом, отличным от done/failed.
	ErrIdempotencyOutcomeInvalid = errors.New("idempotency outcome must be done or failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrPaymentVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// Kind — класс ошибки, по которому транспорт выбирает код ответа.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuth             Kind = "auth"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindState            Kind = "state"
	KindInvalidSignature Kind = "invalid_signature"
	KindInternal         Kind = "internal"
)

var errorKinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidSignature, KindInvalidSignature},
	{ErrUnauthenticated, KindAuth},
	{ErrForbidden, KindForbidden},
	{ErrOrderNotFound, KindNotFound},
	{ErrPaymentNotFound, KindNotFound},
	{ErrProductNotFound, KindNotFound},
	{ErrIdempotencyKeyNotFound, KindNotFound},
	{ErrInvalidState, KindState},
	{ErrInvalidTransition, KindState},
	{ErrOrderNumberTaken, KindConflict},
	{ErrPaymentAlreadyExists, KindConflict},
	{ErrOrderVersionConflict, KindConflict},
	{ErrPaymentVersionConflict, KindConflict},
	{ErrIdempotencyKeyAlreadyExists, KindConflict},
	{ErrIdempotencyHashMismatch, KindConflict},
	{ErrUserRequired, KindValidation},
	{ErrCurrencyRequired, KindValidation},
	{ErrEmptyCart, KindValidation},
	{ErrInvalidQuantity, KindValidation},
	{ErrInvalidAddress, KindValidation},
	{ErrProductUnavailable, KindValidation},
	{ErrInsufficientStock, KindValidation},
	{ErrAmountNegative, KindValidation},
	{ErrItemPriceInvalid, KindValidation},
	{ErrAmountMismatch, KindValidation},
	{ErrOrderIDRequired, KindValidation},
	{ErrInvalidRequest, KindValidation},
	{ErrIdempotencyKeyRequired, KindValidation},
	{ErrIdempotencyRequestHashRequired, KindValidation},
	{ErrIdempotencyOutcomeInvalid, KindValidation},
}

// KindOf классифицирует ошибку. Неизвестные ошибки считаются внутренними.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.err) {
			return candidate.kind
		}
	}
	return KindInternal
}
