package pricing

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cache"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultCacheTTL = 30 * time.Second

// Quote — цена варианта на момент расчёта.
type Quote struct {
	ProductID  string
	VariantID  string
	BasePrice  int64
	FinalPrice int64
	Discount   *domain.Discount
	QuotedAt   time.Time
}

// Resolver считает серверную цену варианта с учётом действующих скидок.
type Resolver struct {
	catalog   domain.CatalogRepository
	discounts domain.DiscountRepository
	cache     cache.DiscountCache
	cacheTTL  time.Duration
	now       func() time.Time
	logger    *log.Entry
}

// Option настраивает Resolver.
type Option func(*Resolver)

// WithCache включает кэширование списка скидок товара.
func WithCache(c cache.DiscountCache, ttl time.Duration) Option {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver создаёт Resolver; без WithCache используется NoopCache.
func NewResolver(catalog domain.CatalogRepository, discounts domain.DiscountRepository, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:   catalog,
		discounts: discounts,
		cache:     cache.NoopCache{},
		cacheTTL:  defaultCacheTTL,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    log.WithField("component", "pricing"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// QuoteVariant возвращает цену варианта. Если productID не пуст, вариант обязан ему принадлежать.
func (r *Resolver) QuoteVariant(ctx context.Context, productID, variantID string) (Quote, error) {
	variant, err := r.catalog.GetVariant(ctx, variantID)
	if err != nil {
		return Quote{}, err
	}
	if productID != "" && variant.ProductID != productID {
		return Quote{}, domain.ErrVariantNotFound
	}
	return r.QuoteFor(ctx, variant)
}

// QuoteFor считает цену для уже загруженного варианта.
func (r *Resolver) QuoteFor(ctx context.Context, variant domain.ProductVariant) (Quote, error) {
	discounts, err := r.productDiscounts(ctx, variant.ProductID)
	if err != nil {
		return Quote{}, err
	}

	now := r.now()
	final, applied := domain.BestPrice(variant.Price, discounts, now)
	q := Quote{
		ProductID:  variant.ProductID,
		VariantID:  variant.ID,
		BasePrice:  variant.Price,
		FinalPrice: final,
		QuotedAt:   now,
	}
	if applied != nil {
		d := *applied
		q.Discount = &d
	}
	return q, nil
}

// productDiscounts читает скидки через кэш; ошибки кэша не мешают расчёту цены.
func (r *Resolver) productDiscounts(ctx context.Context, productID string) ([]domain.Discount, error) {
	if cached, ok, err := r.cache.GetDiscounts(ctx, productID); err == nil && ok {
		return cached, nil
	} else if err != nil {
		r.logger.WithError(err).WithField("product_id", productID).Warn("discount cache read failed")
	}

	discounts, err := r.discounts.ListForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetDiscounts(ctx, productID, discounts, r.cacheTTL); err != nil {
		r.logger.WithError(err).WithField("product_id", productID).Warn("discount cache write failed")
	}
	return discounts, nil
}
