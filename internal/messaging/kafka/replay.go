package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrNotReplayable — сообщение из DLQ не содержит исходного события.
var ErrNotReplayable = errors.New("dlq message is not replayable")

// Replay — сообщение, восстановленное из DLQ для повторной публикации.
type Replay struct {
	Topic   string
	Key     string
	Value   []byte
	Headers []sarama.RecordHeader
}

// ProducerMessage собирает сообщение для sarama.
func (r Replay) ProducerMessage(now time.Time) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic:     r.Topic,
		Key:       sarama.StringEncoder(r.Key),
		Value:     sarama.ByteEncoder(r.Value),
		Headers:   r.Headers,
		Timestamp: now.UTC(),
	}
}

// ReplayFromDeadLetter разбирает сообщение из TopicDeadLetterQueue.
//
// Понимает оба формата: DeadLetter от consumer'а (возвращается в исходный
// topic) и OutboxEnvelope от outbox-воркера (возвращается в eventsTopic
// как обычное событие). Сообщение чужого формата даёт ErrNotReplayable.
func ReplayFromDeadLetter(message *sarama.ConsumerMessage, eventsTopic string, now time.Time) (Replay, error) {
	if message == nil || len(message.Value) == 0 {
		return Replay{}, ErrNotReplayable
	}

	var letter DeadLetter
	if err := json.Unmarshal(message.Value, &letter); err == nil && letter.OriginalValue != "" {
		topic := strings.TrimSpace(letter.OriginalTopic)
		if topic == "" {
			if original, ok := headerValue(message, HeaderOriginalTopic); ok {
				topic = original
			}
		}
		if topic == "" {
			return Replay{}, fmt.Errorf("%w: original topic is unknown", ErrNotReplayable)
		}
		return Replay{
			Topic: topic,
			Key:   letter.OriginalKey,
			Value: []byte(letter.OriginalValue),
		}, nil
	}

	var envelope OutboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return Replay{}, ErrNotReplayable
	}

	var dead domain.OutboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return Replay{}, fmt.Errorf("%w: decode outbox dead letter: %v", ErrNotReplayable, err)
	}
	if !dead.Replayable() {
		return Replay{}, fmt.Errorf("%w: outbox dead letter has no event payload", ErrNotReplayable)
	}

	replayed := OutboxEnvelope{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       dead.Payload,
		PublishedAt:   now.UTC(),
	}
	value, err := json.Marshal(replayed)
	if err != nil {
		return Replay{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	if eventsTopic == "" {
		eventsTopic = TopicOrderEvents
	}
	return Replay{
		Topic: eventsTopic,
		Key:   firstNonEmpty(replayed.AggregateID, replayed.ID),
		Value: value,
		Headers: []sarama.RecordHeader{{
			Key:   []byte(HeaderEventType),
			Value: []byte(replayed.EventType),
		}},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
