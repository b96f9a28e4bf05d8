package study

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/saidsurucu/tvstream/internal/model"
)

// RedisDescriptorCache backs the same DescriptorCache interface as the
// in-process LRU, for multi-process deployments that want to share
// indicator metadata lookups instead of every process hitting the
// metadata service independently.
type RedisDescriptorCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRedisDescriptorCache connects to addr and pings it before returning.
func NewRedisDescriptorCache(addr, password string, db int) (*RedisDescriptorCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisDescriptorCache{client: client, ttl: 24 * time.Hour}, nil
}

func (c *RedisDescriptorCache) redisKey(key CacheKey) string {
	return fmt.Sprintf("tvstream:descriptor:%s:%s:%s", key.WireID, key.Version, key.AuthFingerprint)
}

func (c *RedisDescriptorCache) Get(key CacheKey) (model.Descriptor, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		return model.Descriptor{}, false
	}
	var d model.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return model.Descriptor{}, false
	}
	return d, true
}

func (c *RedisDescriptorCache) Put(key CacheKey, d model.Descriptor) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.client.Set(ctx, c.redisKey(key), data, c.ttl)
}

// Close releases the underlying Redis connection pool.
func (c *RedisDescriptorCache) Close() error {
	return c.client.Close()
}
