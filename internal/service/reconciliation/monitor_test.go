package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var now = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

func seedPayment(t *testing.T, store *memory.Store, id string, status domain.PaymentStatus, expires time.Time, reconcile bool) {
	t.Helper()

	orders := memory.NewOrderRepository(store)
	order := domain.Order{
		ID: "o-" + id, UserID: "u1", TotalPrice: 1000, Status: domain.OrderStatusPending,
		Details:   []domain.OrderDetail{{ID: "d-" + id, VariantID: "v1", Quantity: 1, Price: 1000}},
		CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour),
	}
	require.NoError(t, orders.Create(context.Background(), order))

	payments := memory.NewPaymentRepository(store)
	require.NoError(t, payments.Create(context.Background(), domain.Payment{
		ID: id, OrderID: order.ID, UserID: "u1", Amount: 1000, Method: domain.PaymentMethodVNPay,
		Status: status, TxnRef: domain.TxnRefFor(order.ID, 1), Attempt: 1,
		ReconciliationRequired: reconcile, ExpiresAt: expires,
		CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour),
	}))
}

func TestMonitor_ReportsWithoutMutating(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seedPayment(t, store, "stale", domain.PaymentStatusPending, now.Add(-time.Hour), false)
	seedPayment(t, store, "live", domain.PaymentStatusPending, now.Add(time.Hour), false)
	seedPayment(t, store, "paid", domain.PaymentStatusCompleted, now.Add(-time.Hour), true)

	registry := prometheus.NewRegistry()
	fm := metrics.NewFulfillmentMetricsWithRegisterer(registry)
	payments := memory.NewPaymentRepository(store)
	monitor := NewMonitor(payments, WithMetrics(fm), WithClock(func() time.Time { return now }))

	report, err := monitor.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, report.StalePending, 1)
	require.Equal(t, "stale", report.StalePending[0].ID)
	require.Equal(t, 1, report.ReconciliationRequired)

	stale, err := payments.GetByTxnRef(context.Background(), domain.TxnRefFor("o-stale", 1))
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, stale.Status)

	families, err := registry.Gather()
	require.NoError(t, err)
	gauges := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if m.GetGauge() != nil {
				gauges[f.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	require.Equal(t, 1.0, gauges["storefront_payments_stale_pending"])
	require.Equal(t, 1.0, gauges["storefront_payments_reconciliation_open"])
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	monitor := NewMonitor(memory.NewPaymentRepository(memory.NewStore()), WithInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		monitor.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
}
