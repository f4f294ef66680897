package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/solestore/internal/models"
	"golang.org/x/sync/singleflight"
)

var ErrCacheMiss = errors.New("cache miss")

// CouponLoader fetches a coupon from the source of truth on a cache miss.
type CouponLoader func(ctx context.Context, code string) (*models.Coupon, error)

// CouponCache is a read-through cache of coupons keyed by normalized code.
// Usage counters in cached copies may lag; redemption always re-reads the
// coupon under a row lock.
type CouponCache struct {
	client  *redis.Client
	baseTTL time.Duration
	load    CouponLoader
	sfg     singleflight.Group
}

func NewCouponCache(client *redis.Client, ttl time.Duration, load CouponLoader) *CouponCache {
	return &CouponCache{
		client:  client,
		baseTTL: ttl,
		load:    load,
	}
}

func (c *CouponCache) Get(ctx context.Context, code string) (*models.Coupon, error) {
	data, err := c.client.Get(ctx, cacheKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var coupon models.Coupon
	if err := json.Unmarshal(data, &coupon); err != nil {
		return nil, fmt.Errorf("unmarshal coupon failed: %w", err)
	}

	return &coupon, nil
}

func (c *CouponCache) Set(ctx context.Context, coupon *models.Coupon) error {
	data, err := json.Marshal(coupon)
	if err != nil {
		return fmt.Errorf("marshal coupon failed: %w", err)
	}

	ttl := c.baseTTL
	if ttl >= 4*time.Minute {
		ttl += time.Duration(rand.Int63n(int64(ttl / 4)))
	}

	if err := c.client.Set(ctx, cacheKey(coupon.Code), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *CouponCache) Delete(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, cacheKey(code)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Lookup returns the coupon for code, loading and caching it on a miss.
// Concurrent misses for the same code share one load. Redis failures degrade
// to loading directly.
func (c *CouponCache) Lookup(ctx context.Context, code string) (*models.Coupon, error) {
	code = models.NormalizeCouponCode(code)

	v, err, _ := c.sfg.Do(code, func() (interface{}, error) {
		coupon, err := c.Get(ctx, code)
		if err == nil {
			return coupon, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			log.Printf("coupon cache get error: %v", err)
		}

		coupon, err = c.load(ctx, code)
		if err != nil {
			return nil, err
		}

		if err := c.Set(ctx, coupon); err != nil {
			log.Printf("coupon cache set error: %v", err)
		}
		return coupon, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*models.Coupon), nil
}

func cacheKey(code string) string {
	return fmt.Sprintf("coupon:%s", models.NormalizeCouponCode(code))
}
