package cache

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DiscountCache хранит скидки товара между запросами цены.
type DiscountCache interface {
	GetDiscounts(ctx context.Context, productID string) ([]domain.Discount, bool, error)
	SetDiscounts(ctx context.Context, productID string, discounts []domain.Discount, ttl time.Duration) error
}

// RateLimiter решает, пропускать ли очередной запрос с данным ключом.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// NoopCache используется, когда Redis не настроен: промахи всегда, лимитов нет.
type NoopCache struct{}

func (NoopCache) GetDiscounts(_ context.Context, _ string) ([]domain.Discount, bool, error) {
	return nil, false, nil
}

func (NoopCache) SetDiscounts(_ context.Context, _ string, _ []domain.Discount, _ time.Duration) error {
	return nil
}

func (NoopCache) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	return true, nil
}

var (
	_ DiscountCache = NoopCache{}
	_ RateLimiter   = NoopCache{}
)
