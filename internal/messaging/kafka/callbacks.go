package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/lifecycle"
)

// CallbackVerifier применяет подписанный callback шлюза.
type CallbackVerifier interface {
	Verify(ctx context.Context, cb lifecycle.Callback) (lifecycle.VerifyResult, error)
}

// ParsePaymentCallback парсит callback из TopicPaymentCallbacks.
func ParsePaymentCallback(message *sarama.ConsumerMessage) (lifecycle.Callback, error) {
	var cb lifecycle.Callback
	if err := json.Unmarshal(message.Value, &cb); err != nil {
		return lifecycle.Callback{}, fmt.Errorf("failed to unmarshal payment callback: %w", err)
	}
	return cb, nil
}

// PaymentCallbackHandler передаёт callback'и из Kafka в сверку платежей с
// теми же правилами подписи, что и у HTTP-эндпоинта. Ошибки, которые повтор
// не исправит, помечаются ErrPermanent.
func PaymentCallbackHandler(verifier CallbackVerifier, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-callback-consumer")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		cb, err := ParsePaymentCallback(message)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}

		result, err := verifier.Verify(ctx, cb)
		if err != nil {
			switch domain.KindOf(err) {
			case domain.KindInternal, domain.KindConflict:
				return err
			default:
				return fmt.Errorf("%w: %w", ErrPermanent, err)
			}
		}

		logger.WithFields(log.Fields{
			"order_id":       result.OrderID,
			"payment_status": result.PaymentStatus,
			"replayed":       result.Replayed,
			"offset":         message.Offset,
		}).Info("payment callback applied")
		return nil
	}
}
