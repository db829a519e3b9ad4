package fulfillment

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway подписью считает параметр sig=valid; остальные поля берутся из query как есть.
type fakeGateway struct {
	mu       sync.Mutex
	requests []vnpay.PaymentRequest
}

func (g *fakeGateway) CreatePaymentURL(req vnpay.PaymentRequest) (vnpay.PaymentLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return vnpay.PaymentLink{
		URL:       "https://pay.test/vpcpay.html?vnp_TxnRef=" + url.QueryEscape(req.TxnRef),
		ExpiresAt: req.CreatedAt.Add(24 * time.Hour),
	}, nil
}

func (g *fakeGateway) VerifyIPN(q url.Values) domain.GatewayCallback { return g.verify(q) }

func (g *fakeGateway) VerifyReturnURL(q url.Values) domain.GatewayCallback { return g.verify(q) }

func (g *fakeGateway) verify(q url.Values) domain.GatewayCallback {
	cb := domain.GatewayCallback{
		TxnRef:        q.Get("vnp_TxnRef"),
		ResponseCode:  q.Get("vnp_ResponseCode"),
		TransactionNo: q.Get("vnp_TransactionNo"),
		BankCode:      "NCB",
		Message:       vnpay.ResponseMessage(q.Get("vnp_ResponseCode")),
	}
	if q.Get("sig") != "valid" {
		return cb
	}
	amount, err := strconv.ParseInt(q.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return cb
	}
	cb.Verified = true
	cb.Amount = amount
	cb.Success = cb.ResponseCode == vnpay.ResponseCodeSuccess
	return cb
}

func callback(txnRef string, amount int64, code string) url.Values {
	q := url.Values{}
	q.Set("vnp_TxnRef", txnRef)
	q.Set("vnp_Amount", strconv.FormatInt(amount, 10))
	q.Set("vnp_ResponseCode", code)
	q.Set("vnp_TransactionNo", "14000001")
	q.Set("sig", "valid")
	return q
}

type testEnv struct {
	t        *testing.T
	store    *memory.Store
	svc      *Service
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	outbox   interface{ AllPending() []domain.OutboxMessage }
	catalog  domain.CatalogRepository
	clock    *fakeClock
	gateway  *fakeGateway
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p1", Name: "Tee"},
		domain.ProductVariant{ID: "v1", SKU: "TEE-M", Price: 100000, StockQuantity: 10},
	)
	store.PutProduct(domain.Product{ID: "p2", Name: "Cap"},
		domain.ProductVariant{ID: "v2", SKU: "CAP", Price: 50000, StockQuantity: 3},
	)

	clock := &fakeClock{now: baseTime}
	catalog := memory.NewCatalogRepository(store)
	discounts := memory.NewDiscountRepository(store)
	outbox := memory.NewOutboxRepository(store)
	gateway := &fakeGateway{}
	registry := prometheus.NewRegistry()

	env := &testEnv{
		t:        t,
		store:    store,
		orders:   memory.NewOrderRepository(store),
		payments: memory.NewPaymentRepository(store),
		outbox:   outbox,
		catalog:  catalog,
		clock:    clock,
		gateway:  gateway,
		registry: registry,
	}

	base := []Option{
		WithClock(clock.Now),
		WithMetrics(metrics.NewFulfillmentMetricsWithRegisterer(registry)),
		WithFrontendURL("https://shop.test/"),
	}
	svc, err := New(Dependencies{
		Tx:       store,
		Orders:   env.orders,
		Payments: env.payments,
		Catalog:  catalog,
		Stock:    catalog,
		Outbox:   outbox,
		Timeline: memory.NewTimelineRepository(store),
		Pricing:  pricing.NewResolver(catalog, discounts, pricing.WithClock(clock.Now)),
		Gateway:  gateway,
	}, append(base, opts...)...)
	require.NoError(t, err)
	env.svc = svc
	return env
}

func (e *testEnv) stock(variantID string) int64 {
	e.t.Helper()
	v, err := e.catalog.GetVariant(context.Background(), variantID)
	require.NoError(e.t, err)
	return v.StockQuantity
}

func (e *testEnv) productStock(productID string) int64 {
	e.t.Helper()
	p, err := e.catalog.GetProduct(context.Background(), productID)
	require.NoError(e.t, err)
	return p.Stock
}

// scenarioOrder — заказ из двух строк: v1×2 по 100000 и v2×1 по 50000.
func (e *testEnv) scenarioOrder(userID string) domain.Order {
	e.t.Helper()
	order, err := e.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: userID,
		Lines: []LineInput{
			{VariantID: "v1", Quantity: 2, Price: ptr(int64(100000))},
			{VariantID: "v2", Quantity: 1, Price: ptr(int64(50000))},
		},
		TotalPrice: ptr(int64(250000)),
	})
	require.NoError(e.t, err)
	return order
}

func (e *testEnv) openPayment(order domain.Order) domain.Payment {
	e.t.Helper()
	session, err := e.svc.CreatePaymentURL(context.Background(), PaymentURLInput{
		Actor:    Actor{UserID: order.UserID},
		OrderID:  order.ID,
		Amount:   order.TotalPrice,
		ClientIP: "203.0.113.10",
	})
	require.NoError(e.t, err)
	return session.Payment
}

func (e *testEnv) payment(txnRef string) domain.Payment {
	e.t.Helper()
	p, err := e.payments.GetByTxnRef(context.Background(), txnRef)
	require.NoError(e.t, err)
	return p
}

func (e *testEnv) order(id string) domain.Order {
	e.t.Helper()
	o, err := e.orders.Get(context.Background(), id)
	require.NoError(e.t, err)
	return o
}

func (e *testEnv) eventTypes() []string {
	msgs := e.outbox.AllPending()
	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m.EventType)
	}
	return types
}

func (e *testEnv) counter(name string) float64 {
	e.t.Helper()
	families, err := e.registry.Gather()
	require.NoError(e.t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func ptr[T any](v T) *T { return &v }
