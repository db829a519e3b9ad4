package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const keyPrefix = "storefront:"

// luaSlidingWindow — скользящее окно на ZSET; атомарно чистит старые записи,
// считает текущие и добавляет новую, если лимит не исчерпан.
// KEYS[1]=ключ, ARGV: now(ms), windowStart(ms), windowMs, member, limit. Возвращает -1 при превышении.
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)
local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, windowMs)
  return count + 1
end
return -1
`

var slidingWindow = redis.NewScript(luaSlidingWindow)

// RedisCache — Redis-реализация DiscountCache и RateLimiter.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создаёт клиента Redis.
func NewRedisCache(addr, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// discountEntry — представление скидки в кэше; Value хранится строкой, чтобы не терять точность.
type discountEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Value      string    `json:"value"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Status     int       `json:"status"`
	ProductIDs []string  `json:"product_ids"`
}

func discountKey(productID string) string {
	return keyPrefix + "discounts:product:" + productID
}

func (c *RedisCache) GetDiscounts(ctx context.Context, productID string) ([]domain.Discount, bool, error) {
	val, err := c.client.Get(ctx, discountKey(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entries []discountEntry
	if err := json.Unmarshal(val, &entries); err != nil {
		return nil, false, fmt.Errorf("decode cached discounts: %w", err)
	}

	discounts := make([]domain.Discount, 0, len(entries))
	for _, e := range entries {
		value, err := decimal.NewFromString(e.Value)
		if err != nil {
			return nil, false, fmt.Errorf("decode cached discount %s value: %w", e.ID, err)
		}
		discounts = append(discounts, domain.Discount{
			ID:         e.ID,
			Name:       e.Name,
			Type:       domain.DiscountType(e.Type),
			Value:      value,
			StartDate:  e.StartDate,
			EndDate:    e.EndDate,
			Status:     e.Status,
			ProductIDs: e.ProductIDs,
		})
	}
	return discounts, true, nil
}

func (c *RedisCache) SetDiscounts(ctx context.Context, productID string, discounts []domain.Discount, ttl time.Duration) error {
	entries := make([]discountEntry, 0, len(discounts))
	for _, d := range discounts {
		entries = append(entries, discountEntry{
			ID:         d.ID,
			Name:       d.Name,
			Type:       string(d.Type),
			Value:      d.Value.String(),
			StartDate:  d.StartDate,
			EndDate:    d.EndDate,
			Status:     d.Status,
			ProductIDs: d.ProductIDs,
		})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, discountKey(productID), payload, ttl).Err()
}

// Allow реализует скользящее окно: не более limit запросов по ключу за window.
func (c *RedisCache) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())

	res, err := slidingWindow.Run(ctx, c.client, []string{keyPrefix + "ratelimit:" + key},
		nowMs, nowMs-window.Milliseconds(), window.Milliseconds(), member, limit).Int()
	if err != nil {
		return false, err
	}
	return res >= 0, nil
}

var (
	_ DiscountCache = (*RedisCache)(nil)
	_ RateLimiter   = (*RedisCache)(nil)
)
