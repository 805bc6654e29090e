package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type paymentRepository struct {
	mu sync.Locker
	st func() *state
}

func (r *paymentRepository) Insert(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.st()

	if _, exists := st.paymentByOrder[payment.OrderID]; exists {
		return domain.ErrPaymentAlreadyExists
	}
	if payment.GatewayOrderRef != "" {
		if _, exists := st.paymentByRef[payment.GatewayOrderRef]; exists {
			return domain.ErrPaymentAlreadyExists
		}
	}
	if _, exists := st.payments[payment.ID]; exists {
		return domain.ErrPaymentAlreadyExists
	}

	st.payments[payment.ID] = payment.Clone()
	st.paymentByOrder[payment.OrderID] = payment.ID
	if payment.GatewayOrderRef != "" {
		st.paymentByRef[payment.GatewayOrderRef] = payment.ID
	}
	return nil
}

func (r *paymentRepository) GetByOrder(_ context.Context, orderID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.st()

	id, ok := st.paymentByOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return st.payments[id].Clone(), nil
}

func (r *paymentRepository) GetByOrderForUpdate(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.GetByOrder(ctx, orderID)
}

func (r *paymentRepository) GetByGatewayOrderRef(_ context.Context, ref string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.st()

	id, ok := st.paymentByRef[ref]
	if !ok || ref == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return st.payments[id].Clone(), nil
}

func (r *paymentRepository) Save(_ context.Context, payment domain.Payment) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.st()

	existing, ok := st.payments[payment.ID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if existing.Version != payment.Version {
		return domain.Payment{}, domain.ErrPaymentVersionConflict
	}
	if existing.GatewayOrderRef != "" && payment.GatewayOrderRef != existing.GatewayOrderRef {
		return domain.Payment{}, fmt.Errorf("%w: gateway order reference is immutable", domain.ErrInvalidState)
	}
	if existing.GatewayOrderRef == "" && payment.GatewayOrderRef != "" {
		if _, taken := st.paymentByRef[payment.GatewayOrderRef]; taken {
			return domain.Payment{}, domain.ErrPaymentAlreadyExists
		}
		st.paymentByRef[payment.GatewayOrderRef] = payment.ID
	}

	updated := payment.Clone()
	updated.OrderID = existing.OrderID
	updated.CreatedAt = existing.CreatedAt
	updated.Version = existing.Version + 1
	st.payments[payment.ID] = updated
	return updated.Clone(), nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
