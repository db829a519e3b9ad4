package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics — метрики оформления заказов и оплаты.
// Методы безопасны для nil-получателя: сервисы без метрик просто ничего не пишут.
type FulfillmentMetrics struct {
	orders        *prometheus.CounterVec
	paymentsOpen  prometheus.Counter
	payments      *prometheus.CounterVec
	ipnAcks       *prometheus.CounterVec
	signatureFail *prometheus.CounterVec
	reconcile     prometheus.Counter
	resolved      prometheus.Counter
	stock         *prometheus.CounterVec
	applyDuration *prometheus.HistogramVec
	timeline      prometheus.Counter
	outbox        prometheus.Counter

	stalePending   prometheus.Gauge
	reconcileOpen  prometheus.Gauge
	idempotencyDel prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewFulfillmentMetrics регистрирует метрики в DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		orders: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Orders created, by entry point",
		}, []string{"source"}),
		paymentsOpen: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_payment_attempts_opened_total",
			Help: "Payment attempts opened with the gateway",
		}),
		payments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_payments_total",
			Help: "Payment attempts reaching a terminal status",
		}, []string{"status"}),
		ipnAcks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_ipn_ack_total",
			Help: "IPN acknowledgements returned to the gateway, by RspCode",
		}, []string{"rsp_code"}),
		signatureFail: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_gateway_signature_failures_total",
			Help: "Gateway callbacks rejected because of checksum mismatch",
		}, []string{"channel"}),
		reconcile: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_reconciliation_required_total",
			Help: "Payments captured by the gateway that could not be fulfilled",
		}),
		resolved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_reconciliation_resolved_total",
			Help: "Reconciliation flags closed by an operator",
		}),
		stock: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_adjustments_total",
			Help: "Stock adjustments applied, by reason",
		}, []string{"reason"}),
		applyDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_payment_apply_duration_seconds",
			Help:    "Duration of applying a gateway callback",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"channel"}),
		timeline: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Order timeline events recorded",
		}),
		outbox: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_enqueued_total",
			Help: "Domain events written to the transactional outbox",
		}),
		stalePending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_payments_stale_pending",
			Help: "Pending payment attempts past their expiry",
		}),
		reconcileOpen: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_payments_reconciliation_open",
			Help: "Completed payments still flagged for manual reconciliation",
		}),
		idempotencyDel: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_idempotency_keys_deleted_total",
			Help: "Expired idempotency keys removed by housekeeping",
		}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "route", "status"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordOrderCreated: source = order | checkout.
func (m *FulfillmentMetrics) RecordOrderCreated(source string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(source).Inc()
}

func (m *FulfillmentMetrics) RecordPaymentOpened() {
	if m == nil {
		return
	}
	m.paymentsOpen.Inc()
}

// RecordPaymentFinished учитывает переход попытки в терминальный статус.
func (m *FulfillmentMetrics) RecordPaymentFinished(status string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(status).Inc()
}

func (m *FulfillmentMetrics) RecordIPNAck(rspCode string) {
	if m == nil {
		return
	}
	m.ipnAcks.WithLabelValues(rspCode).Inc()
}

func (m *FulfillmentMetrics) RecordSignatureFailure(channel string) {
	if m == nil {
		return
	}
	m.signatureFail.WithLabelValues(channel).Inc()
}

func (m *FulfillmentMetrics) RecordReconciliationRequired() {
	if m == nil {
		return
	}
	m.reconcile.Inc()
}

func (m *FulfillmentMetrics) RecordReconciliationResolved() {
	if m == nil {
		return
	}
	m.resolved.Inc()
}

func (m *FulfillmentMetrics) RecordStockAdjustment(reason string) {
	if m == nil {
		return
	}
	m.stock.WithLabelValues(reason).Inc()
}

func (m *FulfillmentMetrics) RecordApplyDuration(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.applyDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *FulfillmentMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timeline.Inc()
}

func (m *FulfillmentMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outbox.Inc()
}

func (m *FulfillmentMetrics) SetStalePending(n int) {
	if m == nil {
		return
	}
	m.stalePending.Set(float64(n))
}

func (m *FulfillmentMetrics) SetReconciliationOpen(n int) {
	if m == nil {
		return
	}
	m.reconcileOpen.Set(float64(n))
}

func (m *FulfillmentMetrics) RecordIdempotencyDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.idempotencyDel.Add(float64(n))
}

// ObserveHTTP записывает один обслуженный HTTP-запрос.
func (m *FulfillmentMetrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
