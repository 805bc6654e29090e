// Package notify отправляет уведомления покупателю о событиях заказа.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Типы уведомлений.
const (
	TypeOrderPlaced      = "order_placed"
	TypeOrderCancelled   = "order_cancelled"
	TypePaymentConfirmed = "payment_confirmed"
)

// DefaultQueue — очередь уведомлений по умолчанию.
const DefaultQueue = "storefront.notifications"

// Notification — сообщение, которое уходит в очередь уведомлений.
type Notification struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	UserID        string    `json:"user_id"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	RefundNote    string    `json:"refund_note,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func newNotification(kind string, order domain.Order) Notification {
	return Notification{
		Type:        kind,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Amount:      order.TotalAmount.StringFixed(2),
		Currency:    order.Currency,
		Status:      string(order.Status),
		OccurredAt:  time.Now().UTC(),
	}
}

// Channel — подмножество *amqp.Channel, которым пользуется нотификатор.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ChannelOpener открывает канал для одной публикации.
type ChannelOpener func() (Channel, error)

// ConnectionOpener открывает каналы поверх соединения RabbitMQ.
func ConnectionOpener(conn *amqp.Connection) ChannelOpener {
	return func() (Channel, error) {
		return conn.Channel()
	}
}

// Dial подключается к RabbitMQ.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return conn, nil
}

// AMQPNotifier публикует уведомления в durable-очередь RabbitMQ.
type AMQPNotifier struct {
	open   ChannelOpener
	queue  string
	logger *log.Entry
}

// NewAMQPNotifier создаёт нотификатор.
func NewAMQPNotifier(open ChannelOpener, queue string, logger *log.Entry) *AMQPNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "notifier")
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPNotifier{open: open, queue: queue, logger: logger}
}

func (n *AMQPNotifier) OrderPlaced(ctx context.Context, order domain.Order) error {
	return n.publish(ctx, newNotification(TypeOrderPlaced, order))
}

func (n *AMQPNotifier) OrderCancelled(ctx context.Context, order domain.Order, refundNote string) error {
	msg := newNotification(TypeOrderCancelled, order)
	msg.RefundNote = refundNote
	return n.publish(ctx, msg)
}

func (n *AMQPNotifier) PaymentConfirmed(ctx context.Context, order domain.Order, payment domain.Payment) error {
	msg := newNotification(TypePaymentConfirmed, order)
	msg.PaymentMethod = payment.Details.Method
	return n.publish(ctx, msg)
}

func (n *AMQPNotifier) publish(ctx context.Context, msg Notification) error {
	ch, err := n.open()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", n.queue, err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         msg.Type,
		MessageId:    msg.OrderID + ":" + msg.Type,
		Timestamp:    msg.OccurredAt,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	n.logger.WithFields(log.Fields{
		"type":     msg.Type,
		"order_id": msg.OrderID,
	}).Debug("notification published")
	return nil
}

// LogNotifier пишет уведомления в лог. Используется, когда брокер не настроен.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт нотификатор в лог.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "notifier")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) OrderPlaced(_ context.Context, order domain.Order) error {
	n.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"user_id":      order.UserID,
	}).Info("order placed")
	return nil
}

func (n *LogNotifier) OrderCancelled(_ context.Context, order domain.Order, refundNote string) error {
	n.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"refund_note":  refundNote,
	}).Info("order cancelled")
	return nil
}

func (n *LogNotifier) PaymentConfirmed(_ context.Context, order domain.Order, payment domain.Payment) error {
	n.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"payment_id":   payment.ID,
	}).Info("payment confirmed")
	return nil
}

var (
	_ domain.Notifier = (*AMQPNotifier)(nil)
	_ domain.Notifier = (*LogNotifier)(nil)
)
