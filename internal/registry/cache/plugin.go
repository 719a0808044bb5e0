package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/conversation-service/internal/hierarchy"
)

type hierarchyCacheKey struct{}

// WithHierarchyCacheContext returns a new context carrying the given HierarchyCache.
func WithHierarchyCacheContext(ctx context.Context, c HierarchyCache) context.Context {
	return context.WithValue(ctx, hierarchyCacheKey{}, c)
}

// HierarchyCacheFromContext retrieves the HierarchyCache from the context.
// Returns nil if none was set.
func HierarchyCacheFromContext(ctx context.Context) HierarchyCache {
	c, _ := ctx.Value(hierarchyCacheKey{}).(HierarchyCache)
	return c
}

// HierarchyCache caches assembled hierarchy results per owner and query shape.
// Implementations key entries by (ownerID, limit, includeOrphaned); Invalidate
// drops every variant for the owner, since any write can reshape the tree.
type HierarchyCache interface {
	Available() bool
	Get(ctx context.Context, ownerID string, limit int, includeOrphaned bool) (*hierarchy.Result, error)
	Set(ctx context.Context, ownerID string, limit int, includeOrphaned bool, result *hierarchy.Result, ttl time.Duration) error
	Invalidate(ctx context.Context, ownerID string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (HierarchyCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
