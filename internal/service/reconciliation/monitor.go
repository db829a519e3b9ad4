package reconciliation

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultInterval  = time.Minute
	defaultScanLimit = 200
)

// Report — результат одного прохода монитора.
type Report struct {
	StalePending           []domain.Payment
	ReconciliationRequired int
}

// Option настраивает Monitor.
type Option func(*Monitor)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics задаёт gauges для зависших и требующих сверки платежей.
func WithMetrics(fm *metrics.FulfillmentMetrics) Option {
	return func(m *Monitor) {
		m.metrics = fm
	}
}

// WithInterval задаёт период проверки.
func WithInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor находит Pending попытки, пережившие окно оплаты, и оплаченные попытки,
// ждущие ручной сверки. Он только сообщает: статусы платежей и заказов не меняет,
// закрытие просроченной попытки происходит при следующем запросе ссылки на оплату.
type Monitor struct {
	payments domain.PaymentRepository
	logger   *log.Entry
	metrics  *metrics.FulfillmentMetrics
	interval time.Duration
	now      func() time.Time
}

// NewMonitor создаёт монитор.
func NewMonitor(payments domain.PaymentRepository, options ...Option) *Monitor {
	m := &Monitor{
		payments: payments,
		logger:   log.WithField("component", "payment-monitor"),
		interval: defaultInterval,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Run проверяет платежи каждые interval до отмены ctx.
func (m *Monitor) Run(ctx context.Context) {
	if m.payments == nil {
		m.logger.Warn("payment monitor is disabled: repository is nil")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *Monitor) scan(ctx context.Context) {
	if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
		m.logger.WithError(err).Warn("payment monitor run failed")
	}
}

// Check выполняет один проход и обновляет gauges.
func (m *Monitor) Check(ctx context.Context) (Report, error) {
	stale, err := m.payments.ListStale(ctx, m.now(), defaultScanLimit)
	if err != nil {
		return Report{}, err
	}
	open, err := m.payments.CountReconciliationRequired(ctx)
	if err != nil {
		return Report{}, err
	}

	m.metrics.SetStalePending(len(stale))
	m.metrics.SetReconciliationOpen(open)

	for _, p := range stale {
		m.logger.WithFields(log.Fields{
			"order_id":   p.OrderID,
			"txn_ref":    p.TxnRef,
			"expires_at": p.ExpiresAt.Format(time.RFC3339),
		}).Warn("payment attempt expired without gateway result")
	}
	if open > 0 {
		m.logger.WithFields(log.Fields{
			"count": open,
			"alert": "reconciliation_required",
		}).Error("paid orders are waiting for manual reconciliation")
	}

	return Report{StalePending: stale, ReconciliationRequired: open}, nil
}
