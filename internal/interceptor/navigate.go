package interceptor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/strategy"
)

// navigate 网络优先；可缓存的页面写入 app shell 缓存，网络失败时依次查找
// 请求本身与 AppShellURL。
func (i *Interceptor) navigate(ctx context.Context, req cache.Request) Outcome {
	snap, err := i.opts.Fetcher.Fetch(ctx, req)
	if err == nil {
		if i.opts.Classifier.IsCacheSafe(snap, req) {
			i.storeShell(req, snap)
		}
		i.opts.Metrics.RecordStrategy(SourceAppShell, "network")
		return Outcome{Result: Responded, Snapshot: snap, Source: SourceAppShell}
	}

	names := []string{i.opts.AppShellStore}
	for _, candidate := range []cache.Request{req, {Method: req.Method, URL: i.opts.AppShellURL}} {
		cached, ok, lookupErr := cache.MatchAny(ctx, i.opts.Provider, names, candidate)
		if lookupErr != nil {
			i.opts.Logger.WithError(lookupErr).WithFields(logrus.Fields{
				"action": "navigate",
				"store":  i.opts.AppShellStore,
				"url":    candidate.Key(),
			}).Warn("cache_lookup_failed")
			continue
		}
		if ok {
			i.opts.Metrics.RecordStrategy(SourceAppShell, "cache_fallback")
			return Outcome{Result: Responded, Snapshot: cached, Source: SourceAppShell}
		}
	}

	i.opts.Metrics.RecordStrategy(SourceAppShell, "miss")
	i.opts.Logger.WithError(err).WithFields(logrus.Fields{
		"action": "navigate",
		"url":    req.Key(),
	}).Warn("navigation_offline_miss")
	return Outcome{Result: NoResponse, Source: SourceAppShell, Err: fmt.Errorf("%w (network: %w)", cache.ErrCacheMiss, err)}
}

func (i *Interceptor) storeShell(req cache.Request, snap *cache.Snapshot) {
	copied := snap.Clone()
	task := func(ctx context.Context) error {
		store, err := i.opts.Provider.Open(ctx, i.opts.AppShellStore)
		if err == nil {
			err = store.Put(ctx, req, copied)
		}
		i.opts.Metrics.RecordCacheWrite(i.opts.AppShellStore, err)
		return err
	}
	_ = strategy.Detach(i.opts.Tasks, i.opts.Logger, "app-shell:cache_put", task)
}
