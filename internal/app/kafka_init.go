package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы. Пустой список
// брокеров означает работу без Kafka: возвращается nil, nil.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := Config{KafkaBrokers: brokers}.brokerList()
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startCallbackConsumer подписывается на callback'и шлюза из Kafka. Ошибки
// после исчерпания попыток уходят в DLQ через dlq producer.
func startCallbackConsumer(ctx context.Context, cfg Config, verifier kafka.CallbackVerifier, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	brokers := cfg.brokerList()
	if len(brokers) == 0 {
		return nil, nil
	}
	if dlq == nil {
		return nil, errors.New("kafka callback consumer requires a dlq producer")
	}

	consumer, err := kafka.NewConsumer(
		brokers,
		cfg.KafkaGroupID,
		[]string{kafka.TopicPaymentCallbacks},
		kafka.PaymentCallbackHandler(verifier, logger.WithField("component", "payment-callback-consumer")),
		kafka.WithDeadLetters(dlq, kafka.TopicDeadLetterQueue),
		kafka.WithMaxRetries(cfg.KafkaMaxRetries),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}

	logger.WithFields(log.Fields{
		"topic": kafka.TopicPaymentCallbacks,
		"group": cfg.KafkaGroupID,
	}).Info("payment callback consumer started")
	return consumer, nil
}

// stopConsumer останавливает consumer если он не nil.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
