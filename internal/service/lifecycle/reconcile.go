package lifecycle

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/gateway"
)

// Callback — подписанное уведомление шлюза об оплате.
type Callback struct {
	GatewayOrderRef   string `json:"razorpay_order_id"`
	GatewayPaymentRef string `json:"razorpay_payment_id"`
	Signature         string `json:"razorpay_signature"`
}

// VerifyResult — итог сверки.
type VerifyResult struct {
	OrderID       string
	OrderStatus   domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	// Replayed — callback уже был применён ранее, ничего не изменилось.
	Replayed bool
}

// Reconciler применяет подписанные callback'и шлюза к платежу и заказу.
// Повторная доставка того же callback ничего не меняет.
type Reconciler struct {
	store    domain.Storage
	gateway  domain.PaymentGateway
	notifier domain.Notifier
	secret   string

	settings
}

// NewReconciler создаёт сверку платежей. secret — ключ HMAC-подписи callback.
func NewReconciler(store domain.Storage, gw domain.PaymentGateway, notifier domain.Notifier, secret string, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		gateway:  gw,
		notifier: notifier,
		secret:   secret,
		settings: defaultSettings("payment-reconciler"),
	}
	for _, opt := range opts {
		opt(&r.settings)
	}
	if r.notifier == nil {
		r.notifier = nopNotifier{}
	}
	return r
}

// Verify проверяет подпись и переводит платёж в SUCCESS, а заказ в CONFIRMED.
// Подпись проверяется до любых чтений; при ошибке ничего не меняется.
func (r *Reconciler) Verify(ctx context.Context, cb Callback) (VerifyResult, error) {
	cb.GatewayOrderRef = strings.TrimSpace(cb.GatewayOrderRef)
	cb.GatewayPaymentRef = strings.TrimSpace(cb.GatewayPaymentRef)

	if err := gateway.VerifySignature(r.secret, cb.GatewayOrderRef, cb.GatewayPaymentRef, cb.Signature); err != nil {
		r.metrics.SignatureFailure()
		r.logger.WithFields(log.Fields{
			"gateway_order_ref":   cb.GatewayOrderRef,
			"gateway_payment_ref": cb.GatewayPaymentRef,
		}).Warn("payment callback rejected: bad signature")
		return VerifyResult{}, err
	}

	known, err := r.store.Payments().GetByGatewayOrderRef(ctx, cb.GatewayOrderRef)
	if err != nil {
		return VerifyResult{}, err
	}

	// Метаданные нужны только платежу, который ещё можно провести. Статус
	// перепроверяется под блокировкой ниже.
	var details domain.PaymentDetails
	if known.Status.AwaitingCapture() {
		details = r.fetchDetails(ctx, cb)
	}

	done := r.metrics.UnitStarted("reconcile_payment")
	defer done()

	var (
		result    VerifyResult
		order     domain.Order
		payment   domain.Payment
		refunded  bool
		confirmed bool
		rec       *recorder
	)
	err = r.store.WithinTx(ctx, func(tx domain.Tx) error {
		rec = &recorder{tx: tx}
		now := r.clock()

		var err error
		order, err = tx.Orders().GetForUpdate(ctx, known.OrderID)
		if err != nil {
			return err
		}
		payment, err = tx.Payments().GetByOrderForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		result.OrderID = order.ID

		switch payment.Status {
		case domain.PaymentStatusSuccess, domain.PaymentStatusRefunded:
			result.Replayed = true
			result.OrderStatus = order.Status
			result.PaymentStatus = payment.Status
			return nil
		case domain.PaymentStatusFailed:
			return fmt.Errorf("%w: payment for order %s has failed", domain.ErrInvalidState, order.OrderNumber)
		}

		payment.Status = domain.PaymentStatusSuccess
		payment.GatewayPaymentRef = cb.GatewayPaymentRef
		payment.Details = details
		payment.PaidAt = &now
		payment.UpdatedAt = now

		var note string
		if order.Status == domain.OrderStatusCancelled {
			// Деньги пришли за отменённый заказ: их нужно вернуть.
			payment.Status = domain.PaymentStatusRefunded
			refunded = true
			note = refundNote(payment, order)
		}

		payment, err = tx.Payments().Save(ctx, payment)
		if err != nil {
			return err
		}

		if err := rec.emit(ctx, domain.AggregatePayment, payment.ID, domain.EventPaymentCaptured, paymentEvent(payment, "", now)); err != nil {
			return err
		}
		if err := rec.note(ctx, order.ID, domain.TimelinePaymentCaptured, "payment "+payment.GatewayPaymentRef+" captured", now); err != nil {
			return err
		}

		switch {
		case refunded:
			if err := rec.emit(ctx, domain.AggregatePayment, payment.ID, domain.EventPaymentRefunded, paymentEvent(payment, note, now)); err != nil {
				return err
			}
			if err := rec.note(ctx, order.ID, domain.TimelinePaymentRefunded, note, now); err != nil {
				return err
			}
		case order.Status == domain.OrderStatusPending:
			order.Status = domain.OrderStatusConfirmed
			order.UpdatedAt = now
			order, err = tx.Orders().Save(ctx, order)
			if err != nil {
				return err
			}
			confirmed = true
			if err := rec.emit(ctx, domain.AggregateOrder, order.ID, domain.EventOrderConfirmed, orderEvent(order, "", now)); err != nil {
				return err
			}
			if err := rec.note(ctx, order.ID, domain.TimelineOrderConfirmed, "payment confirmed", now); err != nil {
				return err
			}
		}

		result.OrderStatus = order.Status
		result.PaymentStatus = payment.Status
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}

	fields := log.Fields{
		"order_id":            result.OrderID,
		"gateway_order_ref":   cb.GatewayOrderRef,
		"gateway_payment_ref": cb.GatewayPaymentRef,
	}
	if result.Replayed {
		r.metrics.ReconcileReplay()
		r.logger.WithFields(fields).Info("payment callback replayed, nothing to do")
		return result, nil
	}

	r.metrics.PaymentCaptured()
	r.metrics.RecordOutboxEvents(rec.outbox)
	r.metrics.RecordTimelineEvents(rec.timeline)
	if refunded {
		r.metrics.PaymentRefunded()
		r.logger.WithFields(fields).Warn("payment captured for cancelled order, refund owed")
		return result, nil
	}

	r.logger.WithFields(fields).WithField("order_confirmed", confirmed).Info("payment captured")
	notify(r.logger, "payment_confirmed", order.ID, func() error {
		return r.notifier.PaymentConfirmed(ctx, order, payment)
	})
	return result, nil
}

// fetchDetails запрашивает у шлюза способ оплаты. Ошибка шлюза не мешает
// сверке: платёж сохраняется без метаданных.
func (r *Reconciler) fetchDetails(ctx context.Context, cb Callback) domain.PaymentDetails {
	if r.gateway == nil {
		return domain.PaymentDetails{}
	}
	remote, err := r.gateway.FetchPayment(ctx, cb.GatewayPaymentRef)
	if err != nil {
		r.logger.WithField("gateway_payment_ref", cb.GatewayPaymentRef).WithError(err).
			Warn("failed to fetch payment details, continuing without them")
		return domain.PaymentDetails{}
	}
	if remote.OrderRef != "" && remote.OrderRef != cb.GatewayOrderRef {
		r.logger.WithFields(log.Fields{
			"gateway_order_ref": cb.GatewayOrderRef,
			"remote_order_ref":  remote.OrderRef,
		}).Warn("gateway payment belongs to another order")
	}
	return remote.Details
}
