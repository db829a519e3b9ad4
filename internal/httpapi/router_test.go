package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiEnv struct {
	t        *testing.T
	router   *gin.Engine
	verifier *auth.Verifier
	store    *memory.Store
	catalog  domain.CatalogRepository
	payments domain.PaymentRepository
}

type limiterFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

func (f limiterFunc) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return f(ctx, key, limit, window)
}

func newAPIEnv(t *testing.T, mutate ...func(*Config, *Dependencies)) *apiEnv {
	t.Helper()

	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p1", Name: "Tee"},
		domain.ProductVariant{ID: "v1", SKU: "TEE-M", Price: 100000, StockQuantity: 10},
	)
	store.PutProduct(domain.Product{ID: "p2", Name: "Cap"},
		domain.ProductVariant{ID: "v2", SKU: "CAP", Price: 50000, StockQuantity: 3},
	)

	catalog := memory.NewCatalogRepository(store)
	payments := memory.NewPaymentRepository(store)

	gwCfg := vnpay.DefaultConfig()
	gwCfg.TmnCode = "TESTTMN1"
	gwCfg.SecureSecret = "TESTSECRETTESTSECRETTESTSECRET12"
	gateway, err := vnpay.New(gwCfg)
	require.NoError(t, err)

	m := metrics.NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())
	svc, err := fulfillment.New(fulfillment.Dependencies{
		Tx:       store,
		Orders:   memory.NewOrderRepository(store),
		Payments: payments,
		Catalog:  catalog,
		Stock:    catalog,
		Outbox:   memory.NewOutboxRepository(store),
		Timeline: memory.NewTimelineRepository(store),
		Pricing:  pricing.NewResolver(catalog, memory.NewDiscountRepository(store)),
		Gateway:  gateway,
	}, fulfillment.WithMetrics(m), fulfillment.WithFrontendURL("https://shop.test"))
	require.NoError(t, err)

	verifier, err := auth.NewVerifier("api-test-secret", "storefront")
	require.NoError(t, err)

	logger := log.WithField("component", "httpapi-test")
	cfg := DefaultConfig()
	deps := Dependencies{
		Service:  svc,
		Verifier: verifier,
		Guard:    idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, logger),
		Metrics:  m,
		Logger:   logger,
	}
	for _, fn := range mutate {
		fn(&cfg, &deps)
	}

	router, err := NewRouter(cfg, deps)
	require.NoError(t, err)

	return &apiEnv{t: t, router: router, verifier: verifier, store: store, catalog: catalog, payments: payments}
}

func (e *apiEnv) token(userID, role string) string {
	e.t.Helper()
	token, _, err := e.verifier.Sign(userID, role, time.Hour)
	require.NoError(e.t, err)
	return token
}

func (e *apiEnv) do(method, target, token string, body any, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.Equal(t, "success", env.Status, rec.Body.String())

	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.Equal(t, "error", env.Status)
	return env.Code
}

func scenarioOrder() gin.H {
	return gin.H{
		"totalPrice": 250000,
		"details": []gin.H{
			{"variantId": "v1", "quantity": 2, "price": 100000},
			{"variantId": "v2", "quantity": 1, "price": 50000},
		},
	}
}

func (e *apiEnv) createOrder(token string) orderResponse {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/orders/create", token, scenarioOrder())
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[orderResponse](e.t, rec)
}

func TestNewRouter_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewRouter(DefaultConfig(), Dependencies{})
	require.Error(t, err)
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)

	rec := env.do(http.MethodGet, "/api/orders", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, codeUnauthorized, errorCode(t, rec))

	rec = env.do(http.MethodGet, "/api/orders", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/orders", env.token("u1", ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestCreateOrder_ScenarioA(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	token := env.token("u1", "")

	order := env.createOrder(token)
	require.Equal(t, int64(250000), order.TotalPrice)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Len(t, order.Details, 2)
	require.Equal(t, "u1", order.UserID)

	rec := env.do(http.MethodGet, "/api/orders/"+order.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, order.ID, decode[orderResponse](t, rec).ID)

	rec = env.do(http.MethodGet, "/api/orders/"+order.ID, env.token("u2", ""), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeNotFound, errorCode(t, rec))

	rec = env.do(http.MethodGet, "/api/orders/"+order.ID+"/timeline", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decode[[]timelineEventResponse](t, rec))

	rec = env.do(http.MethodGet, "/api/orders", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]orderResponse](t, rec), 1)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	token := env.token("u1", "")

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{name: "malformed json", body: "{", wantCode: http.StatusBadRequest, wantErr: codeValidation},
		{name: "no lines", body: gin.H{"details": []gin.H{}}, wantCode: http.StatusBadRequest, wantErr: codeValidation},
		{
			name:     "price mismatch",
			body:     gin.H{"details": []gin.H{{"variantId": "v1", "quantity": 1, "price": 1}}},
			wantCode: http.StatusBadRequest,
			wantErr:  codeValidation,
		},
		{
			name:     "unknown variant",
			body:     gin.H{"details": []gin.H{{"variantId": "nope", "quantity": 1}}},
			wantCode: http.StatusNotFound,
			wantErr:  codeNotFound,
		},
		{
			name:     "insufficient stock",
			body:     gin.H{"details": []gin.H{{"variantId": "v2", "quantity": 5}}},
			wantCode: http.StatusBadRequest,
			wantErr:  codeInsufficientStock,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/orders/create", token, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			require.Equal(t, tt.wantErr, errorCode(t, rec))
		})
	}
}

func TestPaymentFlow_IPNDeclineAndDuplicates(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	token := env.token("u1", "")
	order := env.createOrder(token)

	rec := env.do(http.MethodGet, "/api/payment/order/"+order.ID, token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/payment/create", token, gin.H{"orderId": order.ID, "amount": 250000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decode[paymentSessionResponse](t, rec)
	require.True(t, strings.HasPrefix(session.PaymentURL, vnpay.SandboxHost))
	require.Equal(t, order.ID+"-1", session.Payment.TxnRef)

	rec = env.do(http.MethodPost, "/api/payment/create", token, gin.H{"orderId": order.ID})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/api/payment/create", token, gin.H{"orderId": order.ID, "amount": 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Ссылка на оплату подписана тем же секретом и не несёт vnp_ResponseCode, то есть это отказ.
	parsed, err := url.Parse(session.PaymentURL)
	require.NoError(t, err)
	signed := parsed.Query()

	tampered := url.Values{}
	for k, v := range signed {
		tampered[k] = append([]string(nil), v...)
	}
	tampered.Set("vnp_Amount", "1")

	rec = env.do(http.MethodGet, "/api/payment/vnpay-ipn?"+tampered.Encode(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"RspCode":"97","Message":"Invalid Checksum"}`, rec.Body.String())

	payment, err := env.payments.GetByTxnRef(context.Background(), session.Payment.TxnRef)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, payment.Status)

	rec = env.do(http.MethodGet, "/api/payment/vnpay-ipn?"+signed.Encode(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"RspCode":"00","Message":"Confirm Success"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/payment/vnpay-ipn?"+signed.Encode(), "", nil)
	require.JSONEq(t, `{"RspCode":"02","Message":"Order already confirmed"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/payment/order/"+order.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.PaymentStatusFailed, decode[paymentResponse](t, rec).Status)

	variant, err := env.catalog.GetVariant(context.Background(), "v1")
	require.NoError(t, err)
	require.Equal(t, int64(10), variant.StockQuantity)
}

func TestVNPayReturn_RedirectsToFrontend(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)

	rec := env.do(http.MethodGet, "/api/payment/vnpay_return?vnp_TxnRef=x-1&vnp_SecureHash=bad", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "https://shop.test/payment/failure?"), location)
	require.Contains(t, location, "vnp_ResponseCode=97")
}

type checkoutResponse struct {
	Order   orderResponse          `json:"order"`
	Payment paymentSessionResponse `json:"payment"`
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	token := env.token("u1", "")

	rec := env.do(http.MethodPost, "/api/checkout", token, scenarioOrder())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	out := decode[checkoutResponse](t, rec)
	require.Equal(t, out.Order.ID, out.Payment.Payment.OrderID)
	require.NotEmpty(t, out.Payment.PaymentURL)
}

func TestUpdateOrderStatus(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	token := env.token("u1", "")
	order := env.createOrder(token)

	rec := env.do(http.MethodPatch, "/api/orders/"+order.ID+"/status", token, gin.H{"status": "bogus"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPatch, "/api/orders/"+order.ID+"/status", token, gin.H{"status": "shipped"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPatch, "/api/orders/"+order.ID+"/status", token, gin.H{"status": "Cancelled", "reason": "changed mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, domain.OrderStatusCancelled, decode[orderResponse](t, rec).Status)

	rec = env.do(http.MethodPatch, "/api/orders/"+order.ID+"/status", env.token("admin", auth.RoleAdmin), gin.H{"status": "pending"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminAdjustStock(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	path := "/api/admin/products/p2/variants/v2/stock"

	rec := env.do(http.MethodPatch, path, env.token("u1", ""), gin.H{"delta": 5})
	require.Equal(t, http.StatusForbidden, rec.Code)

	admin := env.token("admin", auth.RoleAdmin)
	rec = env.do(http.MethodPatch, path, admin, gin.H{"delta": 5, "reason": "restock"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	adj := decode[stockResponse](t, rec)
	require.Equal(t, int64(3), adj.Before)
	require.Equal(t, int64(8), adj.After)
	require.Equal(t, int64(8), adj.ProductStock)

	rec = env.do(http.MethodPatch, path, admin, gin.H{"delta": -100})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, codeInsufficientStock, errorCode(t, rec))

	rec = env.do(http.MethodPatch, "/api/admin/products/p1/variants/v2/stock", admin, gin.H{"delta": 1})
	require.Equal(t, http.StatusNotFound, rec.Code)

	variant, err := env.catalog.GetVariant(context.Background(), "v2")
	require.NoError(t, err)
	require.Equal(t, int64(8), variant.StockQuantity)
}

func TestAdminResolveReconciliation(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	token := env.token("u1", "")
	order := env.createOrder(token)

	rec := env.do(http.MethodPost, "/api/payment/create", token, gin.H{"orderId": order.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	txnRef := decode[paymentSessionResponse](t, rec).Payment.TxnRef

	path := "/api/admin/payments/" + txnRef + "/reconcile"
	admin := env.token("admin", auth.RoleAdmin)

	rec = env.do(http.MethodPost, path, admin, gin.H{"note": "refund issued"})
	require.Equal(t, http.StatusConflict, rec.Code)

	ctx := context.Background()
	payment, err := env.payments.GetByTxnRef(ctx, txnRef)
	require.NoError(t, err)
	_, err = env.payments.Transition(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentOutcome{
		Status:       domain.PaymentStatusFailed,
		ResponseCode: domain.ResponseCodeCancelled,
	})
	require.NoError(t, err)
	_, err = env.payments.FlagReconciliation(ctx, payment.ID, "14000001", "NCB")
	require.NoError(t, err)

	rec = env.do(http.MethodPost, path, token, gin.H{"note": "refund issued"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, path, admin, gin.H{"note": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, path, admin, gin.H{"note": "refund issued"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[paymentResponse](t, rec)
	require.False(t, resolved.ReconciliationRequired)
	require.NotNil(t, resolved.ReconciledAt)
	require.Equal(t, domain.PaymentStatusFailed, resolved.Status)

	rec = env.do(http.MethodPost, "/api/admin/payments/unknown-1/reconcile", admin, gin.H{"note": "x"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVariantPrice(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)

	rec := env.do(http.MethodGet, "/api/products/p1/variants/v1/price", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decode[priceResponse](t, rec)
	require.Equal(t, int64(100000), quote.BasePrice)
	require.Equal(t, int64(100000), quote.FinalPrice)
	require.Nil(t, quote.Discount)
}

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	token := env.token("u1", "")

	first := env.do(http.MethodPost, "/api/orders/create", token, scenarioOrder(), headerIdempotencyKey, "key-1")
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.do(http.MethodPost, "/api/orders/create", token, scenarioOrder(), headerIdempotencyKey, "key-1")
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(headerReplayed))
	require.Equal(t, first.Body.String(), second.Body.String())

	other := gin.H{"details": []gin.H{{"variantId": "v1", "quantity": 1}}}
	rec := env.do(http.MethodPost, "/api/orders/create", token, other, headerIdempotencyKey, "key-1")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, codeIdempotency, errorCode(t, rec))

	// Ключ принадлежит пользователю: другой пользователь с тем же ключом создаёт свой заказ.
	rec = env.do(http.MethodPost, "/api/orders/create", env.token("u2", ""), scenarioOrder(), headerIdempotencyKey, "key-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Empty(t, rec.Header().Get(headerReplayed))

	rec = env.do(http.MethodGet, "/api/orders", token, nil)
	require.Len(t, decode[[]orderResponse](t, rec), 1)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		keys []string
	)
	deny := limiterFunc(func(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, key)
		return len(keys) <= 1, nil
	})
	env := newAPIEnv(t, func(cfg *Config, deps *Dependencies) {
		cfg.CheckoutRateLimit = 1
		deps.Limiter = deny
	})
	token := env.token("u1", "")

	env.createOrder(token)
	rec := env.do(http.MethodPost, "/api/orders/create", token, scenarioOrder())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, codeRateLimited, errorCode(t, rec))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "checkout:user:u1", keys[0])
}

func TestRateLimit_FailsOpen(t *testing.T) {
	t.Parallel()

	broken := limiterFunc(func(context.Context, string, int, time.Duration) (bool, error) {
		return false, errors.New("redis down")
	})
	env := newAPIEnv(t, func(_ *Config, deps *Dependencies) {
		deps.Limiter = broken
	})

	env.createOrder(env.token("u1", ""))
}

func TestNoRoute(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	rec := env.do(http.MethodGet, "/api/unknown", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeNotFound, errorCode(t, rec))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrOrderNotFound, want: http.StatusNotFound},
		{err: domain.NewValidationError("x", "bad"), want: http.StatusBadRequest},
		{err: &domain.InsufficientStockError{VariantID: "v", Available: 1, Requested: 2}, want: http.StatusBadRequest},
		{err: &domain.TransitionError{Entity: "order", From: "a", To: "b"}, want: http.StatusConflict},
		{err: domain.ErrPaymentInProgress, want: http.StatusConflict},
		{err: domain.ErrOrderAlreadyPaid, want: http.StatusConflict},
		{err: domain.ErrNothingToReconcile, want: http.StatusConflict},
		{err: idempotency.ErrRequestInFlight, want: http.StatusConflict},
		{err: domain.ErrIdempotencyHashMismatch, want: http.StatusUnprocessableEntity},
		{err: domain.ErrForbidden, want: http.StatusForbidden},
		{err: auth.ErrTokenInvalid, want: http.StatusUnauthorized},
		{err: domain.Persistence("commit", errors.New("conn reset")), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := classify(tt.err)
		require.Equal(t, tt.want, got, tt.err.Error())
	}
}
