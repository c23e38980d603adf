package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики пути checkout → settlement.
type CheckoutMetrics struct {
	// Счётчики операций над резервами
	reservationsCreated   prometheus.Counter
	reservationsCommitted prometheus.Counter
	reservationsReleased  prometheus.Counter
	reservationsExpired   prometheus.Counter

	// Конкуренция по горячим SKU
	stockConflicts prometheus.Counter

	// Итоги checkout
	checkoutDuration prometheus.Histogram
	checkoutResults  *prometheus.CounterVec

	// Переходы статусной машины заказа
	orderTransitions *prometheus.CounterVec

	// Webhook-и шлюзов
	webhookResults  *prometheus.CounterVec
	webhookDuration prometheus.Histogram

	// События timeline/outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge припаркованных платёжных событий
	parkedEvents prometheus.Gauge
}

// NewCheckoutMetrics создаёт метрики на DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		reservationsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_reservations_created_total",
			Help: "Total number of stock reservations created",
		}),
		reservationsCommitted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_reservations_committed_total",
			Help: "Total number of stock reservations committed (final sale)",
		}),
		reservationsReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_reservations_released_total",
			Help: "Total number of stock reservations released back to available",
		}),
		reservationsExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_reservations_expired_total",
			Help: "Total number of stock reservations expired by the sweeper",
		}),
		stockConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_stock_version_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on stock records",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orderflow_checkout_duration_seconds",
			Help:    "Duration of checkout requests in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		checkoutResults: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderflow_checkout_results_total",
			Help: "Checkout outcomes grouped by result",
		}, []string{"result"}),
		orderTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderflow_order_transitions_total",
			Help: "Order state machine transitions grouped by target status",
		}, []string{"to"}),
		webhookResults: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderflow_webhook_results_total",
			Help: "Payment gateway webhook deliveries grouped by result",
		}, []string{"gateway", "result"}),
		webhookDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orderflow_webhook_duration_seconds",
			Help:    "Duration of webhook settlement in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		parkedEvents: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orderflow_parked_payment_events",
			Help: "Number of payment events parked for manual reconciliation",
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

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
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

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordReservationCreated увеличивает счётчик созданных резервов.
func (m *CheckoutMetrics) RecordReservationCreated() {
	m.reservationsCreated.Inc()
}

// RecordReservationCommitted увеличивает счётчик закоммиченных резервов.
func (m *CheckoutMetrics) RecordReservationCommitted() {
	m.reservationsCommitted.Inc()
}

// RecordReservationReleased увеличивает счётчик возвращённых резервов.
func (m *CheckoutMetrics) RecordReservationReleased() {
	m.reservationsReleased.Inc()
}

// RecordReservationExpired увеличивает счётчик просроченных резервов.
func (m *CheckoutMetrics) RecordReservationExpired() {
	m.reservationsExpired.Inc()
}

// RecordStockConflict фиксирует конфликт версии stock-записи.
func (m *CheckoutMetrics) RecordStockConflict() {
	m.stockConflicts.Inc()
}

// RecordCheckoutDuration записывает длительность checkout.
func (m *CheckoutMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordCheckoutResult фиксирует итог checkout (ok|out_of_stock|contention|invalid).
func (m *CheckoutMetrics) RecordCheckoutResult(result string) {
	m.checkoutResults.WithLabelValues(result).Inc()
}

// RecordOrderTransition фиксирует переход заказа в целевой статус.
func (m *CheckoutMetrics) RecordOrderTransition(to string) {
	m.orderTransitions.WithLabelValues(to).Inc()
}

// RecordWebhookResult фиксирует итог обработки webhook.
func (m *CheckoutMetrics) RecordWebhookResult(gateway, result string) {
	m.webhookResults.WithLabelValues(gateway, result).Inc()
}

// RecordWebhookDuration записывает длительность settlement.
func (m *CheckoutMetrics) RecordWebhookDuration(duration time.Duration) {
	m.webhookDuration.Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// SetParkedEvents выставляет количество припаркованных платёжных событий.
func (m *CheckoutMetrics) SetParkedEvents(n int) {
	m.parkedEvents.Set(float64(n))
}

// RecordParkedEvents сдвигает gauge припаркованных событий на delta
// (+1 при парковке, -1 после успешного reprocess).
func (m *CheckoutMetrics) RecordParkedEvents(delta int) {
	m.parkedEvents.Add(float64(delta))
}
