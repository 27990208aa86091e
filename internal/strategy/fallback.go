package strategy

import (
	"context"

	"github.com/any-hub/edge-cache/internal/cache"
)

// fallbackOnly 走网络，只在响应不可缓存（例如 5xx）时用缓存条目替换它。
// 传输层失败不做兜底，直接向上返回。
type fallbackOnly struct {
	base
}

func (e *fallbackOnly) Type() Type {
	return FallbackOnly
}

func (e *fallbackOnly) Execute(ctx context.Context, req cache.Request) (*cache.Snapshot, error) {
	snap, err := e.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		e.record(FallbackOnly, "error")
		return nil, err
	}

	if e.cacheSafe(snap, req) {
		e.persistAsync(FallbackOnly, req, snap)
		e.record(FallbackOnly, "network")
		return snap, nil
	}

	cached, err := e.lookup(ctx, req)
	if err != nil {
		e.record(FallbackOnly, "miss")
		return nil, err
	}
	e.record(FallbackOnly, "cache_fallback")
	return cached, nil
}
