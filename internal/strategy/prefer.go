package strategy

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-cache/internal/cache"
)

// preferCache 命中缓存即返回且不触网；未命中时走 offline-only 的回源写缓存路径。
type preferCache struct {
	base
	network *offlineOnly
}

func (e *preferCache) Type() Type {
	return PreferCache
}

func (e *preferCache) Execute(ctx context.Context, req cache.Request) (*cache.Snapshot, error) {
	cached, err := e.lookup(ctx, req)
	if err == nil {
		e.record(PreferCache, "cache")
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// 存储读失败按未命中处理，网络仍可给出响应
		e.deps.Logger.WithError(err).WithFields(logrus.Fields{
			"action":   "cache_lookup",
			"strategy": string(PreferCache),
			"url":      req.Key(),
		}).Warn("cache_lookup_failed")
	}
	return e.network.fetchAndCache(ctx, req, PreferCache)
}
