package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/metrics"
)

// Executor 把一个请求解析为响应快照或带类型的失败；执行器内部从不重试。
type Executor interface {
	Type() Type
	Execute(ctx context.Context, req cache.Request) (*cache.Snapshot, error)
}

// Fetcher 是网络传输层；无法拿到响应时返回 *transport.Error。
type Fetcher interface {
	Fetch(ctx context.Context, req cache.Request) (*cache.Snapshot, error)
}

// Spawner 登记分离的后台任务，通常由 lifetime.Supervisor 实现。
type Spawner interface {
	WaitUntil(name string, fn func(ctx context.Context) error) error
}

// Stores 描述执行器可见的缓存：Lookup 为查找顺序，Write 为运行时写入的动态缓存。
type Stores struct {
	Lookup []string
	Write  string
}

// Deps 是所有执行器共享的依赖，构造后只读。
type Deps struct {
	Provider   cache.Provider
	Fetcher    Fetcher
	Classifier cache.Classifier
	Stores     Stores
	Tasks      Spawner
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics
}

func (d Deps) validate() error {
	if d.Provider == nil {
		return errors.New("cache provider is required")
	}
	if d.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if d.Stores.Write == "" {
		return errors.New("write store is required")
	}
	return nil
}

// New 为给定策略构建执行器；非枚举值返回 *UnknownTypeError。
func New(t Type, deps Deps) (Executor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	b := base{deps: deps}
	switch t {
	case OfflineOnly:
		return &offlineOnly{base: b}, nil
	case FallbackOnly:
		return &fallbackOnly{base: b}, nil
	case PreferCache:
		return &preferCache{base: b, network: &offlineOnly{base: b}}, nil
	case Race:
		return &race{base: b}, nil
	default:
		return nil, &UnknownTypeError{Value: string(t)}
	}
}

// Set 保存每种策略对应的执行器，启动时构建一次。
type Set map[Type]Executor

// NewSet 为全部策略构建执行器。
func NewSet(deps Deps) (Set, error) {
	set := make(Set, len(Types()))
	for _, t := range Types() {
		exec, err := New(t, deps)
		if err != nil {
			return nil, fmt.Errorf("build %s executor: %w", t, err)
		}
		set[t] = exec
	}
	return set, nil
}

// base 提供查找、写入与后台任务等公共能力。
type base struct {
	deps Deps
}

// lookup 在 Lookup 缓存中查找，未命中返回 cache.ErrCacheMiss。
func (b base) lookup(ctx context.Context, req cache.Request) (*cache.Snapshot, error) {
	snap, ok, err := cache.MatchAny(ctx, b.deps.Provider, b.deps.Stores.Lookup, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return snap, nil
}

// put 同步写入动态缓存。
func (b base) put(ctx context.Context, req cache.Request, snap *cache.Snapshot) error {
	store, err := b.deps.Provider.Open(ctx, b.deps.Stores.Write)
	if err == nil {
		err = store.Put(ctx, req, snap)
	}
	b.deps.Metrics.RecordCacheWrite(b.deps.Stores.Write, err)
	return err
}

// persistAsync 以分离任务写入副本，不阻塞响应路径。
func (b base) persistAsync(strategy Type, req cache.Request, snap *cache.Snapshot) {
	copied := snap.Clone()
	_ = b.spawn(string(strategy)+":cache_put", func(ctx context.Context) error {
		if err := b.put(ctx, req, copied); err != nil {
			return fmt.Errorf("persist %s: %w", req.Key(), err)
		}
		return nil
	})
}

func (b base) spawn(name string, fn func(ctx context.Context) error) error {
	return Detach(b.deps.Tasks, b.deps.Logger, name, fn)
}

// Detach 把 fn 交给 tasks 托管。未注入 Spawner 时直接起 goroutine；
// Spawner 拒绝（进程已在退出）时丢弃任务，记录日志并返回该错误。
func Detach(tasks Spawner, logger *logrus.Logger, name string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if tasks == nil {
		go func() {
			if err := fn(context.Background()); err != nil {
				logger.WithError(err).WithField("task", name).Warn("background_task_failed")
			}
		}()
		return nil
	}
	if err := tasks.WaitUntil(name, fn); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"action": "background_task",
			"task":   name,
		}).Warn("background_task_dropped")
		return err
	}
	return nil
}

func (b base) cacheSafe(snap *cache.Snapshot, req cache.Request) bool {
	return b.deps.Classifier.IsCacheSafe(snap, req)
}

func (b base) record(t Type, outcome string) {
	b.deps.Metrics.RecordStrategy(string(t), outcome)
}
