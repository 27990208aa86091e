package strategy

import (
	"context"

	"github.com/any-hub/edge-cache/internal/cache"
)

const (
	sourceNetwork = "network"
	sourceCache   = "cache"
)

type raceOutcome struct {
	source string
	snap   *cache.Snapshot
	err    error
}

// race 同时发起缓存查找与网络请求，先拿到响应的一方获胜（不论是否可缓存）。
// 失败方不会被取消；网络侧的结果只要可缓存就会写入，即使它输了。
// 缓存未命中算作失败，两侧都失败时返回 *CombinedFailure。
type race struct {
	base
}

func (e *race) Type() Type {
	return Race
}

func (e *race) Execute(ctx context.Context, req cache.Request) (*cache.Snapshot, error) {
	results := make(chan raceOutcome, 2)

	network := func(taskCtx context.Context) error {
		snap, err := e.deps.Fetcher.Fetch(taskCtx, req)
		if err != nil {
			results <- raceOutcome{source: sourceNetwork, err: err}
			return nil
		}
		results <- raceOutcome{source: sourceNetwork, snap: snap.Clone()}
		if e.cacheSafe(snap, req) {
			return e.put(taskCtx, req, snap)
		}
		return nil
	}
	if err := e.spawn("race:network", network); err != nil {
		results <- raceOutcome{source: sourceNetwork, err: err}
	}
	lookup := func(taskCtx context.Context) error {
		snap, err := e.lookup(taskCtx, req)
		results <- raceOutcome{source: sourceCache, snap: snap, err: err}
		return nil
	}
	if err := e.spawn("race:cache", lookup); err != nil {
		results <- raceOutcome{source: sourceCache, err: err}
	}

	var failures [2]raceOutcome
	for i := 0; i < 2; i++ {
		select {
		case outcome := <-results:
			if outcome.err == nil {
				e.record(Race, outcome.source)
				return outcome.snap, nil
			}
			failures[i] = outcome
		case <-ctx.Done():
			e.record(Race, "error")
			return nil, ctx.Err()
		}
	}

	combined := &CombinedFailure{}
	for _, failure := range failures {
		if failure.source == sourceNetwork {
			combined.Network = failure.err
		} else {
			combined.Cache = failure.err
		}
	}
	e.record(Race, "error")
	return nil, combined
}
