package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cache"
	"github.com/vladislavdragonenkov/storefront/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// initRedisCache подключает Redis, если задан адрес. Недоступный Redis не мешает запуску:
// цены считаются без кеша, а ограничение частоты отключается.
func initRedisCache(ctx context.Context, cfg Config, logger *log.Entry) *cache.RedisCache {
	if cfg.RedisAddr == "" {
		return nil
	}

	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis is unavailable, continuing without cache")
		_ = redisCache.Close()
		return nil
	}

	logger.WithField("addr", cfg.RedisAddr).Info("redis cache initialized")
	return redisCache
}

func closeRedisCache(redisCache *cache.RedisCache, logger *log.Entry) {
	if redisCache == nil {
		return
	}
	if err := redisCache.Close(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}

// newFulfillmentService собирает оркестратор поверх выбранного хранилища.
func newFulfillmentService(
	cfg Config,
	deps *runtimeDependencies,
	redisCache *cache.RedisCache,
	fm *metrics.FulfillmentMetrics,
	logger *log.Entry,
) (*fulfillment.Service, error) {
	var discountCache cache.DiscountCache = cache.NoopCache{}
	if redisCache != nil {
		discountCache = redisCache
	}
	resolver := pricing.NewResolver(deps.catalog, deps.discounts, pricing.WithCache(discountCache, cfg.DiscountCacheTTL))

	gateway, err := vnpay.New(cfg.VNPay, vnpay.WithLogger(logger.WithField("component", "vnpay")))
	if err != nil {
		return nil, fmt.Errorf("init vnpay gateway: %w", err)
	}
	if cfg.VNPay.UsesSandboxCredentials() {
		logger.Warn("vnpay sandbox credentials in use, payments are not real")
	}

	return fulfillment.New(fulfillment.Dependencies{
		Tx:       deps.tx,
		Orders:   deps.orders,
		Payments: deps.payments,
		Catalog:  deps.catalog,
		Stock:    deps.catalog,
		Outbox:   deps.outboxRepo,
		Timeline: deps.timelineRepo,
		Pricing:  resolver,
		Gateway:  gateway,
	},
		fulfillment.WithLogger(logger.WithField("component", "fulfillment")),
		fulfillment.WithMetrics(fm),
		fulfillment.WithFrontendURL(cfg.FrontendURL),
		fulfillment.WithApplyOnReturn(cfg.ApplyOnReturn),
	)
}
