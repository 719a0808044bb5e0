package noop

import (
	"context"
	"time"

	"github.com/chirino/conversation-service/internal/hierarchy"
	"github.com/chirino/conversation-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.HierarchyCache, error) {
			return &noopHierarchyCache{}, nil
		},
	})
}

type noopHierarchyCache struct{}

func (n *noopHierarchyCache) Available() bool { return false }
func (n *noopHierarchyCache) Get(_ context.Context, _ string, _ int, _ bool) (*hierarchy.Result, error) {
	return nil, nil
}
func (n *noopHierarchyCache) Set(_ context.Context, _ string, _ int, _ bool, _ *hierarchy.Result, _ time.Duration) error {
	return nil
}
func (n *noopHierarchyCache) Invalidate(_ context.Context, _ string) error { return nil }

var _ cache.HierarchyCache = (*noopHierarchyCache)(nil)
