package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/lifetime"
	"github.com/any-hub/edge-cache/internal/transport"
)

const (
	testPrecache = "PRECACHE-1.01"
	testDynamic  = "DYNAMIC-1.01"
)

// fakeFetcher 按 URL 返回预设响应，记录调用次数；gate 非空时阻塞到 gate 关闭。
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*cache.Snapshot
	calls     int
	gate      chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string]*cache.Snapshot)}
}

func (f *fakeFetcher) respond(url string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = &cache.Snapshot{URL: url, Status: status, Body: []byte(body), Type: cache.ResponseBasic}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req cache.Request) (*cache.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	snap, ok := f.responses[req.Key()]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if !ok {
		return nil, &transport.Error{Method: "GET", URL: req.Key(), Err: errors.New("connection refused")}
	}
	return snap.Clone(), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	provider   cache.Provider
	fetcher    *fakeFetcher
	supervisor *lifetime.Supervisor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &testEnv{
		provider:   cache.NewMemoryProvider(),
		fetcher:    newFakeFetcher(),
		supervisor: lifetime.New(logger),
	}
}

func (e *testEnv) deps() Deps {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return Deps{
		Provider:   e.provider,
		Fetcher:    e.fetcher,
		Classifier: cache.NewClassifier(cache.DefaultExcludedSchemes),
		Stores:     Stores{Lookup: []string{testPrecache, testDynamic}, Write: testDynamic},
		Tasks:      e.supervisor,
		Logger:     logger,
	}
}

func (e *testEnv) executor(t *testing.T, typ Type) Executor {
	t.Helper()
	exec, err := New(typ, e.deps())
	if err != nil {
		t.Fatalf("build %s executor: %v", typ, err)
	}
	return exec
}

func (e *testEnv) seed(t *testing.T, storeName, url, body string) {
	t.Helper()
	store, err := e.provider.Open(context.Background(), storeName)
	if err != nil {
		t.Fatalf("open %s: %v", storeName, err)
	}
	if err := store.Put(context.Background(), cache.Request{URL: url}, &cache.Snapshot{URL: url, Status: 200, Body: []byte(body)}); err != nil {
		t.Fatalf("seed %s: %v", url, err)
	}
}

// cached 等待后台写入结束后读取动态缓存。
func (e *testEnv) cached(t *testing.T, url string) (*cache.Snapshot, bool) {
	t.Helper()
	e.supervisor.Settle()
	store, err := e.provider.Open(context.Background(), testDynamic)
	if err != nil {
		t.Fatalf("open dynamic: %v", err)
	}
	snap, ok, err := store.Match(context.Background(), cache.Request{URL: url})
	if err != nil {
		t.Fatalf("match %s: %v", url, err)
	}
	return snap, ok
}
