package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/lifecycle"
)

type stubVerifier struct {
	got []lifecycle.Callback
	err error
}

func (s *stubVerifier) Verify(_ context.Context, cb lifecycle.Callback) (lifecycle.VerifyResult, error) {
	s.got = append(s.got, cb)
	if s.err != nil {
		return lifecycle.VerifyResult{}, s.err
	}
	return lifecycle.VerifyResult{OrderID: "order-1", PaymentStatus: domain.PaymentStatusSuccess}, nil
}

func TestPaymentCallbackHandler(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic: TopicPaymentCallbacks,
		Value: []byte(`{"razorpay_order_id":"order_A","razorpay_payment_id":"pay_B","razorpay_signature":"abc"}`),
	}

	tests := []struct {
		name          string
		verifyErr     error
		message       *sarama.ConsumerMessage
		wantErr       bool
		wantPermanent bool
	}{
		{name: "applied", message: msg},
		{name: "bad json", message: &sarama.ConsumerMessage{Value: []byte("{")}, wantErr: true, wantPermanent: true},
		{name: "bad signature", message: msg, verifyErr: domain.ErrInvalidSignature, wantErr: true, wantPermanent: true},
		{name: "unknown payment", message: msg, verifyErr: domain.ErrPaymentNotFound, wantErr: true, wantPermanent: true},
		{name: "failed payment", message: msg, verifyErr: fmt.Errorf("%w: failed", domain.ErrInvalidState), wantErr: true, wantPermanent: true},
		{name: "version conflict", message: msg, verifyErr: domain.ErrPaymentVersionConflict, wantErr: true},
		{name: "storage down", message: msg, verifyErr: errors.New("connection refused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &stubVerifier{err: tt.verifyErr}
			handler := PaymentCallbackHandler(verifier, log.WithField("test", tt.name))

			err := handler(context.Background(), tt.message)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(verifier.got) != 1 || verifier.got[0].GatewayPaymentRef != "pay_B" {
					t.Fatalf("callback not forwarded: %+v", verifier.got)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrPermanent); got != tt.wantPermanent {
				t.Fatalf("permanent = %v, want %v (err %v)", got, tt.wantPermanent, err)
			}
		})
	}
}
