package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/hierarchy"
	registrycache "github.com/chirino/conversation-service/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultTTL = 30 * time.Second

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.HierarchyCache, error) {
	cfg := config.FromContext(ctx)
	maxBytes := int64(64 * 1024 * 1024)
	ttl := defaultTTL
	if cfg != nil {
		if cfg.CacheMemoryMaxBytes > 0 {
			maxBytes = cfg.CacheMemoryMaxBytes
		}
		if cfg.CacheHierarchyTTL > 0 {
			ttl = cfg.CacheHierarchyTTL
		}
	}
	return New(maxBytes, ttl)
}

// New creates an in-process HierarchyCache backed by ristretto. Suitable for
// single-instance deployments; multi-instance deployments should use the
// redis cache so invalidations are shared.
func New(maxBytes int64, ttl time.Duration) (registrycache.HierarchyCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e6,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &memoryHierarchyCache{cache: cache, ttl: ttl}, nil
}

// memoryHierarchyCache keys entries by (owner, epoch, limit, includeOrphaned).
// Ristretto cannot enumerate keys, so invalidation bumps the owner's epoch and
// lets superseded entries age out or get evicted by cost.
type memoryHierarchyCache struct {
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration

	mu     sync.Mutex
	epochs map[string]int64
}

func (c *memoryHierarchyCache) epoch(ownerID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[ownerID]
}

func key(ownerID string, epoch int64, limit int, includeOrphaned bool) string {
	return fmt.Sprintf("%s:%d:%d:%t", ownerID, epoch, limit, includeOrphaned)
}

func (c *memoryHierarchyCache) Available() bool {
	return true
}

func (c *memoryHierarchyCache) Get(ctx context.Context, ownerID string, limit int, includeOrphaned bool) (*hierarchy.Result, error) {
	data, ok := c.cache.Get(key(ownerID, c.epoch(ownerID), limit, includeOrphaned))
	if !ok {
		return nil, nil
	}
	var result hierarchy.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *memoryHierarchyCache) Set(ctx context.Context, ownerID string, limit int, includeOrphaned bool, result *hierarchy.Result, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(key(ownerID, c.epoch(ownerID), limit, includeOrphaned), data, int64(len(data)), ttl)
	return nil
}

func (c *memoryHierarchyCache) Invalidate(ctx context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs == nil {
		c.epochs = map[string]int64{}
	}
	c.epochs[ownerID]++
	return nil
}

var _ registrycache.HierarchyCache = (*memoryHierarchyCache)(nil)
