// Package lifecycle populates the precache store for the configured version
// and evicts stores left behind by earlier versions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/metrics"
	"github.com/any-hub/edge-cache/internal/transport"
)

// DefaultCacheBustParam 是预缓存回源时追加的查询参数名。
const DefaultCacheBustParam = "_cb"

// Fetcher 与 strategy.Fetcher 一致，单独声明以免 lifecycle 依赖 strategy。
type Fetcher interface {
	Fetch(ctx context.Context, req cache.Request) (*cache.Snapshot, error)
}

// Lifetime 让生命周期任务在执行期间阻止进程退出，通常是 lifetime.Supervisor。
type Lifetime interface {
	Extend() (release func())
}

// Options 描述一个版本的生命周期参数，构造后只读。
type Options struct {
	Version        string
	Names          StoreNames
	Precache       []string
	CacheBustParam string
	Concurrency    int
	SkipWaiting    bool

	Provider   cache.Provider
	Fetcher    Fetcher
	Classifier cache.Classifier
	Lifetime   Lifetime
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics

	// Now 用于生成 cache-bust 取值，测试可注入固定时钟。
	Now func() time.Time
}

// InstallReport 汇总一次 install 的结果，键均为规范化 URL。
type InstallReport struct {
	Stored  []string
	Skipped []string
}

// Manager 负责 install 与 activate 两个阶段。
type Manager struct {
	opts     Options
	precache []string

	mu          sync.RWMutex
	state       State
	skipWaiting bool
}

// New 校验参数并规范化预缓存列表（去重，保持声明顺序）。
func New(opts Options) (*Manager, error) {
	if opts.Version == "" {
		return nil, errors.New("version tag is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("cache provider is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Names == (StoreNames{}) {
		opts.Names = NamesFor(opts.Version, "", "", "")
	}
	if opts.CacheBustParam == "" {
		opts.CacheBustParam = DefaultCacheBustParam
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	seen := make(map[string]struct{}, len(opts.Precache))
	precache := make([]string, 0, len(opts.Precache))
	for _, raw := range opts.Precache {
		key := cache.CanonicalURL(raw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		precache = append(precache, key)
	}

	m := &Manager{
		opts:        opts,
		precache:    precache,
		state:       StateIdle,
		skipWaiting: opts.SkipWaiting,
	}
	opts.Metrics.SetLifecycle(opts.Version, string(StateIdle))
	return m, nil
}

// Version 返回当前版本号。
func (m *Manager) Version() string {
	return m.opts.Version
}

// Names 返回当前版本的缓存名称。
func (m *Manager) Names() StoreNames {
	return m.opts.Names
}

// State 返回当前阶段。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SkipWaiting 请求 install 完成后立即激活。
func (m *Manager) SkipWaiting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipWaiting = true
}

func (m *Manager) shouldSkipWaiting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipWaiting
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.opts.Metrics.SetLifecycle(m.opts.Version, string(state))
	m.opts.Logger.WithFields(logrus.Fields{
		"action":  "lifecycle",
		"version": m.opts.Version,
		"state":   string(state),
	}).Info("lifecycle_state_changed")
}

// Run 执行 install，收到 skip-waiting 信号时紧接着执行 activate。
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.Install(ctx); err != nil {
		return err
	}
	if !m.shouldSkipWaiting() {
		return nil
	}
	if _, err := m.Activate(ctx); err != nil {
		return err
	}
	return nil
}

// Install 打开当前版本的预缓存并逐条回源填充。单条失败只记录日志并跳过，
// 只有打开缓存失败才会让 install 失败。
func (m *Manager) Install(ctx context.Context) (InstallReport, error) {
	release := m.extend()
	defer release()

	m.setState(StateInstalling)
	store, err := m.opts.Provider.Open(ctx, m.opts.Names.Precache)
	if err != nil {
		m.setState(StateRedundant)
		return InstallReport{}, fmt.Errorf("open precache store: %w", err)
	}

	bust := strconv.FormatInt(m.opts.Now().UnixMilli(), 10)
	var (
		mu     sync.Mutex
		report InstallReport
	)
	p := pool.New().WithMaxGoroutines(m.opts.Concurrency)
	for _, key := range m.precache {
		key := key
		p.Go(func() {
			err := m.precacheEntry(ctx, store, key, bust)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Skipped = append(report.Skipped, key)
				m.opts.Metrics.RecordPrecache("skipped")
				m.opts.Logger.WithError(err).WithFields(logrus.Fields{
					"action": "precache",
					"store":  store.Name(),
					"url":    key,
				}).Warn("precache_entry_skipped")
				return
			}
			report.Stored = append(report.Stored, key)
			m.opts.Metrics.RecordPrecache("stored")
		})
	}
	p.Wait()

	sort.Strings(report.Stored)
	sort.Strings(report.Skipped)
	m.opts.Logger.WithFields(logrus.Fields{
		"action":  "precache",
		"store":   store.Name(),
		"stored":  len(report.Stored),
		"skipped": len(report.Skipped),
	}).Info("precache_completed")
	m.setState(StateInstalled)
	return report, nil
}

// errNotCacheSafe 表示预缓存条目回源得到了不可缓存的响应。
var errNotCacheSafe = errors.New("response is not cache-safe")

func (m *Manager) precacheEntry(ctx context.Context, store cache.Store, key, bust string) error {
	req := cache.Request{Method: "GET", URL: key}
	if m.opts.Classifier.Excluded(key) {
		return fmt.Errorf("%w: excluded scheme", errNotCacheSafe)
	}
	fetchReq := req
	fetchReq.URL = transport.CacheBust(key, m.opts.CacheBustParam, bust)

	snap, err := m.opts.Fetcher.Fetch(ctx, fetchReq)
	if err != nil {
		return err
	}
	if !m.opts.Classifier.IsCacheSafe(snap, req) {
		return fmt.Errorf("%w: status %d", errNotCacheSafe, snap.Status)
	}
	snap.URL = key
	err = store.Put(ctx, req, snap)
	m.opts.Metrics.RecordCacheWrite(store.Name(), err)
	return err
}

// Activate 删除所有不属于当前版本的缓存，并发执行、可重复调用。
// 列举或删除失败会合并后返回，不做掩盖。返回本次实际删除的缓存名。
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	release := m.extend()
	defer release()

	m.setState(StateActivating)
	names, err := m.opts.Provider.Keys(ctx)
	if err != nil {
		m.setState(StateRedundant)
		return nil, fmt.Errorf("list stores: %w", err)
	}

	var (
		mu       sync.Mutex
		deleted  []string
		failures error
	)
	p := pool.New().WithMaxGoroutines(m.opts.Concurrency)
	for _, name := range names {
		if !IsStale(name, m.opts.Version) {
			continue
		}
		name := name
		p.Go(func() {
			removed, err := m.opts.Provider.Delete(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = multierr.Append(failures, fmt.Errorf("delete store %s: %w", name, err))
				return
			}
			if removed {
				deleted = append(deleted, name)
			}
		})
	}
	p.Wait()
	err = failures

	sort.Strings(deleted)
	m.opts.Metrics.RecordEviction(len(deleted))
	entry := m.opts.Logger.WithFields(logrus.Fields{
		"action":  "activate",
		"version": m.opts.Version,
		"deleted": deleted,
	})
	if err != nil {
		entry.WithError(err).WithField("failures", len(multierr.Errors(err))).Error("activate_failed")
		m.setState(StateRedundant)
		return deleted, err
	}
	entry.Info("stale_stores_evicted")
	m.setState(StateActivated)
	return deleted, nil
}

func (m *Manager) extend() func() {
	if m.opts.Lifetime == nil {
		return func() {}
	}
	return m.opts.Lifetime.Extend()
}
