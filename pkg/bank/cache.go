package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is the part of *redis.Client the cache uses.
type Redis interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache is a read-through balance cache. Entries are dropped after every
// committed change and expire after ttl, which bounds how long a read racing
// a write can serve the older value. A nil *Cache is valid and caches nothing.
type Cache struct {
	rds Redis
	ttl time.Duration
}

// NewCache returns nil when rds is nil or ttl is not positive.
func NewCache(rds Redis, ttl time.Duration) *Cache {
	if rds == nil || ttl <= 0 {
		return nil
	}
	return &Cache{rds: rds, ttl: ttl}
}

func CacheKey(owner int64, coin string) string {
	return fmt.Sprintf("wallet:balance:%d:%s", owner, coin)
}

func (c *Cache) Get(ctx context.Context, owner int64, coin string) (Balance, bool) {
	if c == nil {
		return Balance{}, false
	}
	data, err := c.rds.Get(ctx, CacheKey(owner, coin)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warningf("balance cache get owner:%d coin:%s failed with err:%s", owner, coin, err)
		}
		return Balance{}, false
	}
	var b Balance
	if err := json.Unmarshal(data, &b); err != nil {
		logger.Warningf("balance cache entry owner:%d coin:%s is broken, err:%s", owner, coin, err)
		return Balance{}, false
	}
	return b, true
}

func (c *Cache) Set(ctx context.Context, b Balance) {
	if c == nil {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := c.rds.Set(ctx, CacheKey(b.Owner, b.Coin), data, c.ttl).Err(); err != nil {
		logger.Warningf("balance cache set owner:%d coin:%s failed with err:%s", b.Owner, b.Coin, err)
	}
}

func (c *Cache) Del(ctx context.Context, owner int64, coin string) {
	if c == nil {
		return
	}
	if err := c.rds.Del(ctx, CacheKey(owner, coin)).Err(); err != nil {
		logger.Warningf("balance cache del owner:%d coin:%s failed with err:%s", owner, coin, err)
	}
}
