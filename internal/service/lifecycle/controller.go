package lifecycle

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Controller — единственный компонент, который меняет заказ, платёж и сток
// вместе. Каждая мутация выполняется через одну единицу работы хранилища.
type Controller struct {
	store    domain.Storage
	gateway  domain.PaymentGateway
	notifier domain.Notifier
	sequence domain.OrderNumberSequence

	settings
}

// settings — общие настройки Controller и Reconciler.
type settings struct {
	logger   *log.Entry
	metrics  *metrics.LifecycleMetrics
	retry    RetryConfig
	now      func() time.Time
	keyID    string
	currency string
}

func defaultSettings(component string) settings {
	return settings{
		logger:   log.New().WithField("component", component),
		retry:    DefaultRetryConfig(),
		now:      time.Now,
		currency: domain.DefaultCurrency,
	}
}

// Option настраивает Controller и Reconciler.
type Option func(*settings)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *settings) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics подключает метрики жизненного цикла.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(c *settings) {
		c.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *settings) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRetry задаёт политику повторов при коллизии номера заказа.
func WithRetry(cfg RetryConfig) Option {
	return func(c *settings) {
		c.retry = cfg
	}
}

// WithKeyID задаёт публичный ключ шлюза, который отдаётся клиенту вместе с
// намерением оплаты.
func WithKeyID(keyID string) Option {
	return func(c *settings) {
		c.keyID = keyID
	}
}

// WithCurrency задаёт валюту новых заказов.
func WithCurrency(currency string) Option {
	return func(c *settings) {
		if currency != "" {
			c.currency = currency
		}
	}
}

// NewController создаёт контроллер жизненного цикла. Если sequence не задан,
// используется CountSequence; без notifier уведомления не отправляются.
func NewController(store domain.Storage, gateway domain.PaymentGateway, notifier domain.Notifier, sequence domain.OrderNumberSequence, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		sequence: sequence,
		settings: defaultSettings("order-lifecycle"),
	}
	for _, opt := range opts {
		opt(&c.settings)
	}
	if c.sequence == nil {
		c.sequence = NewCountSequence()
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	return c
}

func (c *settings) clock() time.Time {
	return c.now().UTC()
}

// authorize проверяет права principal на заказ.
func authorize(principal domain.Principal, order domain.Order) error {
	if !principal.Owns(order.UserID) {
		return domain.ErrForbidden
	}
	return nil
}

func requirePrincipal(principal domain.Principal) error {
	if principal.ID == "" {
		return domain.ErrUnauthenticated
	}
	return nil
}

// notify вызывает уведомление после фиксации. Ошибка только логируется.
func notify(logger *log.Entry, kind, orderID string, send func() error) {
	if err := send(); err != nil {
		logger.WithFields(log.Fields{
			"notification": kind,
			"order_id":     orderID,
		}).WithError(err).Warn("failed to send notification")
	}
}

func isOrderNumberTaken(err error) bool {
	return errors.Is(err, domain.ErrOrderNumberTaken)
}

type nopNotifier struct{}

func (nopNotifier) OrderPlaced(context.Context, domain.Order) error { return nil }

func (nopNotifier) OrderCancelled(context.Context, domain.Order, string) error { return nil }

func (nopNotifier) PaymentConfirmed(context.Context, domain.Order, domain.Payment) error {
	return nil
}
