package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newMockedProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()

	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, log.WithField("component", "kafka-producer-test"))
	producer.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = mockProducer.Close() })
	return producer, mockProducer
}

func TestProducerConfig_IdempotentWrites(t *testing.T) {
	config := producerConfig()

	require.Equal(t, "storefront", config.ClientID)
	require.True(t, config.Producer.Idempotent)
	require.Equal(t, sarama.WaitForAll, config.Producer.RequiredAcks)
	require.True(t, config.Producer.Return.Successes)
	require.Equal(t, 1, config.Net.MaxOpenRequests)
	require.NoError(t, config.Validate())
}

func TestNewProducer_NilLoggerFallsBack(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	defer func() { _ = mockProducer.Close() }()

	producer := newProducer(mockProducer, nil)
	require.NotNil(t, producer.logger)
	require.NotNil(t, producer.now)
}

func TestProducer_PublishEventDeadLetter(t *testing.T) {
	producer, mockProducer := newMockedProducer(t)

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var letter DeadLetter
		if err := json.Unmarshal(value, &letter); err != nil {
			return err
		}
		require.Equal(t, TopicPaymentCallbacks, letter.OriginalTopic)
		return nil
	})

	err := producer.PublishEvent(TopicDeadLetterQueue, "order_Nx81", DeadLetter{OriginalTopic: TopicPaymentCallbacks})
	require.NoError(t, err)
}

func TestProducer_PublishEventFailures(t *testing.T) {
	t.Run("broker error", func(t *testing.T) {
		producer, mockProducer := newMockedProducer(t)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		err := producer.PublishEvent(TopicOrderEvents, "order-1", map[string]string{"status": "PENDING"},
			sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte("order.created")})
		require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	})

	t.Run("unencodable payload", func(t *testing.T) {
		producer, _ := newMockedProducer(t)

		err := producer.PublishEvent(TopicOrderEvents, "order-1", make(chan int))
		if err == nil {
			t.Fatal("expected marshal error")
		}
	})
}

func TestProducer_PublishReplayKeepsOriginalBytes(t *testing.T) {
	producer, mockProducer := newMockedProducer(t)

	original := []byte(`{"razorpay_order_id":"order_Nx81","razorpay_payment_id":"pay_77"}`)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		require.Equal(t, original, value)
		return nil
	})

	err := producer.PublishReplay(Replay{
		Topic:   TopicPaymentCallbacks,
		Key:     "order_Nx81",
		Value:   original,
		Headers: []sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("0")}},
	})
	require.NoError(t, err)
}

func TestParseOutboxEnvelope(t *testing.T) {
	msg := &sarama.ConsumerMessage{Value: []byte(`{"id":"m-1","aggregate_type":"order","aggregate_id":"o-1","event_type":"order.cancelled","payload":{"reason":"changed mind"}}`)}
	envelope, err := ParseOutboxEnvelope(msg)
	require.NoError(t, err)
	require.Equal(t, "order.cancelled", envelope.EventType)
	require.Equal(t, "o-1", envelope.AggregateID)
	require.JSONEq(t, `{"reason":"changed mind"}`, string(envelope.Payload))

	_, err = ParseOutboxEnvelope(&sarama.ConsumerMessage{Value: []byte("{")})
	require.Error(t, err)
}
