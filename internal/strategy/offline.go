package strategy

import (
	"context"
	"fmt"

	"github.com/any-hub/edge-cache/internal/cache"
)

// offlineOnly 优先走网络：可缓存的响应异步写入动态缓存后直接返回；
// 网络完全不可达时回退到缓存，缓存也没有则返回 ErrCacheMiss。
type offlineOnly struct {
	base
}

func (e *offlineOnly) Type() Type {
	return OfflineOnly
}

func (e *offlineOnly) Execute(ctx context.Context, req cache.Request) (*cache.Snapshot, error) {
	return e.fetchAndCache(ctx, req, OfflineOnly)
}

// fetchAndCache 也被 prefer-cache 在未命中时复用，as 用于标记日志与指标。
func (e *offlineOnly) fetchAndCache(ctx context.Context, req cache.Request, as Type) (*cache.Snapshot, error) {
	snap, err := e.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		cached, lookupErr := e.lookup(ctx, req)
		if lookupErr != nil {
			e.record(as, "miss")
			return nil, fmt.Errorf("%w (network: %w)", lookupErr, err)
		}
		e.record(as, "cache_fallback")
		return cached, nil
	}

	if e.cacheSafe(snap, req) {
		e.persistAsync(as, req, snap)
	}
	e.record(as, "network")
	return snap, nil
}
