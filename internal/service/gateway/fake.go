package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Fake — конфигурируемый шлюз в памяти для тестов и локального запуска.
type Fake struct {
	mu sync.Mutex

	CreateErr error
	FetchErr  error
	Details   domain.PaymentDetails

	CreateCalls int
	FetchCalls  int
	Requests    []domain.GatewayOrderRequest
}

// NewFake возвращает шлюз с успешным сценарием по умолчанию.
func NewFake() *Fake {
	return &Fake{
		Details: domain.PaymentDetails{Method: "card", CardNetwork: "Visa", CardLast4: "4242"},
	}
}

// CreateOrder выдаёт новую ссылку вида order_<id> и запоминает запрос.
func (f *Fake) CreateOrder(_ context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls++
	f.Requests = append(f.Requests, req)
	if f.CreateErr != nil {
		return domain.GatewayOrder{}, f.CreateErr
	}

	return domain.GatewayOrder{
		Ref:         "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Status:      "created",
	}, nil
}

// FetchPayment возвращает настроенные метаданные платежа.
func (f *Fake) FetchPayment(_ context.Context, paymentRef string) (domain.GatewayPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.FetchCalls++
	if f.FetchErr != nil {
		return domain.GatewayPayment{}, f.FetchErr
	}
	return domain.GatewayPayment{
		Ref:     paymentRef,
		Status:  "captured",
		Details: f.Details,
	}, nil
}

// Calls возвращает число вызовов CreateOrder и FetchPayment.
func (f *Fake) Calls() (create, fetch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CreateCalls, f.FetchCalls
}

var _ domain.PaymentGateway = (*Fake)(nil)
