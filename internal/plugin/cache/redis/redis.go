package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/hierarchy"
	registrycache "github.com/chirino/conversation-service/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Second

// epochTTL bounds how long a per-owner epoch counter lingers after the last
// invalidation; data keys expire much sooner.
const epochTTL = 24 * time.Hour

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.HierarchyCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CONVERSATION_SERVICE_REDIS_URL is required")
	}
	ttl := cfg.CacheHierarchyTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a HierarchyCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.HierarchyCache, error) {
	return LoadFromURLWithTTL(ctx, redisURL, defaultTTL)
}

// LoadFromURLWithTTL creates a cache with an explicit hierarchy TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.HierarchyCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisHierarchyCache{client: client, ttl: ttl}, nil
}

// redisHierarchyCache keys entries by (owner, epoch, limit, includeOrphaned).
// Invalidation bumps the owner's epoch counter so every variant for that owner
// misses at once; superseded data keys age out via their TTL.
type redisHierarchyCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func epochKey(ownerID string) string {
	return "conv-hierarchy-epoch:" + ownerID
}

func dataKey(ownerID string, epoch int64, limit int, includeOrphaned bool) string {
	return fmt.Sprintf("conv-hierarchy:%s:%d:%d:%t", ownerID, epoch, limit, includeOrphaned)
}

func (c *redisHierarchyCache) Available() bool {
	return true
}

func (c *redisHierarchyCache) epoch(ctx context.Context, ownerID string) (int64, error) {
	epoch, err := c.client.Get(ctx, epochKey(ownerID)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	return epoch, err
}

func (c *redisHierarchyCache) Get(ctx context.Context, ownerID string, limit int, includeOrphaned bool) (*hierarchy.Result, error) {
	epoch, err := c.epoch(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	data, err := c.client.Get(ctx, dataKey(ownerID, epoch, limit, includeOrphaned)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result hierarchy.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *redisHierarchyCache) Set(ctx context.Context, ownerID string, limit int, includeOrphaned bool, result *hierarchy.Result, ttl time.Duration) error {
	epoch, err := c.epoch(ctx, ownerID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, dataKey(ownerID, epoch, limit, includeOrphaned), data, ttl).Err()
}

func (c *redisHierarchyCache) Invalidate(ctx context.Context, ownerID string) error {
	pipe := c.client.Pipeline()
	pipe.Incr(ctx, epochKey(ownerID))
	pipe.Expire(ctx, epochKey(ownerID), epochTTL)
	_, err := pipe.Exec(ctx)
	return err
}

var _ registrycache.HierarchyCache = (*redisHierarchyCache)(nil)
