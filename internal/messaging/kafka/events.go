package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "storefront.order.events"
	TopicPaymentCallbacks = "storefront.payment.callbacks"
	TopicDeadLetterQueue  = "storefront.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
)

// OutboxEnvelope — формат событий жизненного цикла в TopicOrderEvents.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter — сообщение, которое не удалось обработать.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// NewDeadLetter сохраняет исходное сообщение целиком вместе с причиной отказа.
func NewDeadLetter(message *sarama.ConsumerMessage, cause error, attempts int, failedAt time.Time) DeadLetter {
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		FailedAt:          failedAt.UTC().Format(time.RFC3339),
		RetryCount:        attempts,
	}
	if cause != nil {
		letter.ErrorMessage = cause.Error()
	}
	return letter
}

// Headers дублируют ключевые поля письма, чтобы DLQ можно было
// фильтровать без разбора тела.
func (l DeadLetter) Headers() []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(l.OriginalTopic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(l.ErrorMessage)},
		{Key: []byte(HeaderFailedAt), Value: []byte(l.FailedAt)},
		{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(l.RetryCount))},
	}
}

// NewOutboxEnvelope заворачивает событие outbox для TopicOrderEvents.
// Пустой payload кодируется как null.
func NewOutboxEnvelope(event domain.OutboxMessage, publishedAt time.Time) OutboxEnvelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

// PartitionKey — события одного агрегата попадают в одну партицию.
func (e OutboxEnvelope) PartitionKey() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// ParseOutboxEnvelope парсит событие из TopicOrderEvents.
func ParseOutboxEnvelope(message *sarama.ConsumerMessage) (*OutboxEnvelope, error) {
	var envelope OutboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox envelope: %w", err)
	}
	return &envelope, nil
}

func headerValue(message *sarama.ConsumerMessage, key string) (string, bool) {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value), true
		}
	}
	return "", false
}
