package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboxDeadLetter — событие outbox, которое не удалось доставить после всех
// попыток. Кладётся в DLQ целиком, чтобы его можно было переотправить.
type OutboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
	FailedAt      time.Time       `json:"failed_at"`
}

// NewOutboxDeadLetter собирает письмо для DLQ. Невалидный JSON payload
// не копируется: DLQ-сообщение должно оставаться валидным JSON.
func NewOutboxDeadLetter(event OutboxMessage, publishErr error, attempts int, failedAt time.Time) OutboxDeadLetter {
	letter := OutboxDeadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Attempts:      attempts,
		FailedAt:      failedAt.UTC(),
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}
	if json.Valid(event.Payload) {
		letter.Payload = json.RawMessage(event.Payload)
	}
	return letter
}

// Message упаковывает письмо в OutboxMessage с теми же идентификаторами,
// чтобы DLQ-паблишер положил его под ключом агрегата.
func (l OutboxDeadLetter) Message() (OutboxMessage, error) {
	payload, err := json.Marshal(l)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal outbox dead letter: %w", err)
	}
	return OutboxMessage{
		ID:            l.OutboxID,
		AggregateType: l.AggregateType,
		AggregateID:   l.AggregateID,
		EventType:     l.EventType,
		Payload:       payload,
	}, nil
}

// Replayable сообщает, сохранилось ли исходное событие.
func (l OutboxDeadLetter) Replayable() bool {
	return len(l.Payload) > 0 && string(l.Payload) != "null"
}
