package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics содержит метрики жизненного цикла заказа и платежа.
// Методы безопасно вызывать на nil.
type LifecycleMetrics struct {
	ordersCreated      prometheus.Counter
	ordersCancelled    prometheus.Counter
	statusTransitions  prometheus.Counter
	paymentIntents     prometheus.Counter
	paymentsCaptured   prometheus.Counter
	paymentsRefunded   prometheus.Counter
	reconcileReplays   prometheus.Counter
	signatureFailures  prometheus.Counter
	orderNumberRetries prometheus.Counter
	timelineEvents     prometheus.Counter
	outboxEvents       prometheus.Counter

	unitOfWorkDuration *prometheus.HistogramVec
	activeUnits        prometheus.Gauge
}

// NewLifecycleMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewLifecycleMetrics() *LifecycleMetrics {
	return NewLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLifecycleMetricsWithRegisterer регистрирует метрики в указанном реестре.
func NewLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		}),
		statusTransitions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_order_status_transitions_total",
			Help: "Total number of administrative order status transitions",
		}),
		paymentIntents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_payment_intents_total",
			Help: "Total number of payment intents created at the gateway",
		}),
		paymentsCaptured: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_payments_captured_total",
			Help: "Total number of payments confirmed by a signed callback",
		}),
		paymentsRefunded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_payments_refunded_total",
			Help: "Total number of payments marked as refunded",
		}),
		reconcileReplays: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_reconcile_replays_total",
			Help: "Total number of callbacks that arrived for already settled payments",
		}),
		signatureFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_signature_failures_total",
			Help: "Total number of callbacks rejected due to an invalid signature",
		}),
		orderNumberRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_order_number_retries_total",
			Help: "Total number of order creation retries after an order number collision",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		unitOfWorkDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_unit_of_work_duration_seconds",
			Help:    "Duration of lifecycle units of work in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		activeUnits: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_active_units_of_work",
			Help: "Number of lifecycle units of work currently in flight",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// OrderCreated увеличивает счётчик созданных заказов.
func (m *LifecycleMetrics) OrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// OrderCancelled увеличивает счётчик отменённых заказов.
func (m *LifecycleMetrics) OrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

func (m *LifecycleMetrics) StatusTransition() {
	if m == nil {
		return
	}
	m.statusTransitions.Inc()
}

func (m *LifecycleMetrics) PaymentIntentCreated() {
	if m == nil {
		return
	}
	m.paymentIntents.Inc()
}

func (m *LifecycleMetrics) PaymentCaptured() {
	if m == nil {
		return
	}
	m.paymentsCaptured.Inc()
}

func (m *LifecycleMetrics) PaymentRefunded() {
	if m == nil {
		return
	}
	m.paymentsRefunded.Inc()
}

// ReconcileReplay отмечает повторный callback по уже закрытому платежу.
func (m *LifecycleMetrics) ReconcileReplay() {
	if m == nil {
		return
	}
	m.reconcileReplays.Inc()
}

func (m *LifecycleMetrics) SignatureFailure() {
	if m == nil {
		return
	}
	m.signatureFailures.Inc()
}

func (m *LifecycleMetrics) OrderNumberRetry() {
	if m == nil {
		return
	}
	m.orderNumberRetries.Inc()
}

// RecordTimelineEvents увеличивает счётчик событий timeline на n.
func (m *LifecycleMetrics) RecordTimelineEvents(n int) {
	if m == nil {
		return
	}
	m.timelineEvents.Add(float64(n))
}

// RecordOutboxEvents увеличивает счётчик событий outbox на n.
func (m *LifecycleMetrics) RecordOutboxEvents(n int) {
	if m == nil {
		return
	}
	m.outboxEvents.Add(float64(n))
}

// UnitStarted отмечает начало единицы работы и возвращает функцию,
// которая фиксирует её длительность.
func (m *LifecycleMetrics) UnitStarted(operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.activeUnits.Inc()
	return func() {
		m.activeUnits.Dec()
		m.unitOfWorkDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
