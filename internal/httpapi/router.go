package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cache"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// Config — настройки REST API.
type Config struct {
	// Origin-ы витрины и админки для CORS; пусто означает «любой».
	AllowedOrigins []string
	// Запросов на пользователя за RateWindow для создания заказов и оплат; 0 отключает.
	CheckoutRateLimit int
	// Запросов с одного IP за RateWindow для callback-ов шлюза; 0 отключает.
	CallbackRateLimit int
	RateWindow        time.Duration
}

// DefaultConfig возвращает лимиты по умолчанию.
func DefaultConfig() Config {
	return Config{
		CheckoutRateLimit: 30,
		CallbackRateLimit: 300,
		RateWindow:        time.Minute,
	}
}

// Dependencies собирают роутер.
type Dependencies struct {
	Service  OrderService
	Verifier TokenVerifier
	// Guard необязателен: без него Idempotency-Key игнорируется.
	Guard *idempotency.Guard
	// Limiter необязателен: без него ограничение частоты отключено.
	Limiter cache.RateLimiter
	Metrics *metrics.FulfillmentMetrics
	Logger  *log.Entry
}

// NewRouter регистрирует маршруты API.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Service == nil {
		return nil, errors.New("httpapi: order service is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("httpapi: token verifier is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	h := &handler{svc: deps.Service, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(logger), Metrics(deps.Metrics))
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	r.NoRoute(func(c *gin.Context) {
		abortWith(c, http.StatusNotFound, codeNotFound, "route not found")
	})

	api := r.Group("/api")

	checkoutLimit := RateLimit(deps.Limiter, "checkout", cfg.CheckoutRateLimit, cfg.RateWindow, logger)
	callbackLimit := RateLimit(deps.Limiter, "gateway-callback", cfg.CallbackRateLimit, cfg.RateWindow, logger)
	idem := Idempotency(deps.Guard, logger)

	// Публичные маршруты: callback-и шлюза проверяются подписью, а не токеном.
	api.GET("/payment/vnpay_return", callbackLimit, h.vnpayReturn)
	api.GET("/payment/vnpay-ipn", callbackLimit, h.vnpayIPN)
	api.GET("/products/:productId/variants/:variantId/price", h.variantPrice)

	authed := api.Group("", AuthRequired(deps.Verifier, logger))
	{
		authed.POST("/orders/create", checkoutLimit, idem, h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.GET("/orders/:id/timeline", h.orderTimeline)
		authed.PATCH("/orders/:id/status", h.updateOrderStatus)

		authed.POST("/checkout", checkoutLimit, idem, h.checkout)
		authed.POST("/payment/create", checkoutLimit, idem, h.createPayment)
		authed.GET("/payment/order/:orderId", h.paymentByOrder)
	}

	admin := api.Group("/admin", AuthRequired(deps.Verifier, logger), AdminRequired())
	admin.PATCH("/products/:productId/variants/:variantId/stock", h.adjustStock)
	admin.POST("/payments/:txnRef/reconcile", h.resolveReconciliation)

	return r, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", headerIdempotencyKey, headerRequestID},
		ExposeHeaders: []string{"Content-Length", headerRequestID, headerReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
