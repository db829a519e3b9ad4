package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	var c NoopCache

	require.NoError(t, c.SetDiscounts(ctx, "prod-1", []domain.Discount{{ID: "d1"}}, time.Minute))

	discounts, hit, err := c.GetDiscounts(ctx, "prod-1")
	require.NoError(t, err)
	require.False(t, hit)
	require.Empty(t, discounts)

	for i := 0; i < 10; i++ {
		allowed, err := c.Allow(ctx, "ipn:127.0.0.1", 1, time.Second)
		require.NoError(t, err)
		require.True(t, allowed)
	}
}

func TestDiscountKey(t *testing.T) {
	require.Equal(t, "storefront:discounts:product:prod-1", discountKey("prod-1"))
}

func redisForTest(t *testing.T) *RedisCache {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("STOREFRONT_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("STOREFRONT_TEST_REDIS_ADDR is not set")
	}

	c := NewRedisCache(addr, "", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		t.Skipf("redis is not reachable: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_DiscountsRoundTrip(t *testing.T) {
	c := redisForTest(t)
	ctx := context.Background()
	productID := "prod-" + uuid.NewString()

	_, hit, err := c.GetDiscounts(ctx, productID)
	require.NoError(t, err)
	require.False(t, hit)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want := []domain.Discount{{
		ID:         "d1",
		Name:       "spring",
		Type:       domain.DiscountTypePercentage,
		Value:      decimal.RequireFromString("12.5"),
		StartDate:  start,
		EndDate:    start.Add(30 * 24 * time.Hour),
		Status:     domain.DiscountStatusActive,
		ProductIDs: []string{productID},
	}}
	require.NoError(t, c.SetDiscounts(ctx, productID, want, time.Minute))

	got, hit, err := c.GetDiscounts(ctx, productID)
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, got, 1)
	require.True(t, got[0].Value.Equal(want[0].Value), "value precision must survive the cache")
	require.Equal(t, want[0].Type, got[0].Type)
	require.True(t, got[0].EndDate.Equal(want[0].EndDate))
}

func TestRedisCache_AllowSlidingWindow(t *testing.T) {
	c := redisForTest(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		allowed, err := c.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should pass", i+1)
	}

	allowed, err := c.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed, "fourth request inside the window must be rejected")
}
