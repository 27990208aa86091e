package interceptor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/lifetime"
	"github.com/any-hub/edge-cache/internal/strategy"
	"github.com/any-hub/edge-cache/internal/transport"
)

const (
	shellStore   = "APPSHELL-1.01"
	dynamicStore = "DYNAMIC-1.01"
)

type stubFetcher struct {
	mu        sync.Mutex
	responses map[string]*cache.Snapshot
	calls     int
}

func (f *stubFetcher) Fetch(_ context.Context, req cache.Request) (*cache.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	snap, ok := f.responses[req.Key()]
	if !ok {
		return nil, &transport.Error{Method: http.MethodGet, URL: req.Key(), Err: errors.New("offline")}
	}
	return snap.Clone(), nil
}

type fixture struct {
	provider    cache.Provider
	fetcher     *stubFetcher
	supervisor  *lifetime.Supervisor
	interceptor *Interceptor
}

func newFixture(t *testing.T, offline bool, rules ...strategy.Rule) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &fixture{
		provider:   cache.NewMemoryProvider(),
		fetcher:    &stubFetcher{responses: map[string]*cache.Snapshot{}},
		supervisor: lifetime.New(logger),
	}
	classifier := cache.NewClassifier(cache.DefaultExcludedSchemes)
	executors, err := strategy.NewSet(strategy.Deps{
		Provider:   f.provider,
		Fetcher:    f.fetcher,
		Classifier: classifier,
		Stores:     strategy.Stores{Lookup: []string{shellStore, dynamicStore}, Write: dynamicStore},
		Tasks:      f.supervisor,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("build executors: %v", err)
	}
	f.interceptor, err = New(Options{
		Router:        strategy.NewRouter(rules),
		Executors:     executors,
		Offline:       offline,
		AppShellStore: shellStore,
		AppShellURL:   "/",
		Provider:      f.provider,
		Fetcher:       f.fetcher,
		Classifier:    classifier,
		Tasks:         f.supervisor,
		Lifetime:      f.supervisor,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("new interceptor: %v", err)
	}
	return f
}

func (f *fixture) respond(url string, status int, body string) {
	f.fetcher.responses[url] = &cache.Snapshot{URL: url, Status: status, Body: []byte(body)}
}

func (f *fixture) seed(t *testing.T, store, url, body string) {
	t.Helper()
	s, err := f.provider.Open(context.Background(), store)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Put(context.Background(), cache.Request{URL: url}, &cache.Snapshot{Status: 200, Body: []byte(body)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func mustRule(t *testing.T, typ string, matches ...string) strategy.Rule {
	t.Helper()
	rule, err := strategy.CompileRule(matches, typ)
	if err != nil {
		t.Fatalf("compile rule: %v", err)
	}
	return rule
}

func TestInterceptUnmatchedRequestIsNotIntercepted(t *testing.T) {
	f := newFixture(t, false, mustRule(t, "prefer-cache", `\.css$`))
	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodGet, URL: "/api/users"})
	if out.Result != NotIntercepted {
		t.Fatalf("expected NotIntercepted, got %s", out.Result)
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("unmatched requests must not be fetched by the engine")
	}
}

func TestInterceptNonGetIsNotIntercepted(t *testing.T) {
	f := newFixture(t, true, mustRule(t, "race", `.*`))
	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodPost, URL: "/api/users", Navigate: true})
	if out.Result != NotIntercepted {
		t.Fatalf("expected NotIntercepted for POST, got %s", out.Result)
	}
}

func TestInterceptPreferCacheHit(t *testing.T) {
	f := newFixture(t, false, mustRule(t, "prefer-cache", `\.css$`))
	f.seed(t, dynamicStore, "/index.css", "css")

	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodGet, URL: "/index.css"})
	if out.Result != Responded || string(out.Snapshot.Body) != "css" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Source != string(strategy.PreferCache) {
		t.Fatalf("unexpected source %s", out.Source)
	}
}

func TestInterceptExecutorFailureDegradesToNoResponse(t *testing.T) {
	f := newFixture(t, false, mustRule(t, "fallback-only", `\.png$`))

	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodGet, URL: "/a.png"})
	if out.Result != NoResponse {
		t.Fatalf("expected NoResponse, got %s", out.Result)
	}
	if !transport.IsTransportError(out.Err) {
		t.Fatalf("outcome should keep the cause for logging, got %v", out.Err)
	}
}

func TestInterceptFirstRuleWins(t *testing.T) {
	f := newFixture(t, false,
		mustRule(t, "fallback-only", `/assets/`),
		mustRule(t, "prefer-cache", `\.png$`),
	)
	f.respond("/assets/a.png", 200, "png")

	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodGet, URL: "/assets/a.png"})
	if out.Source != string(strategy.FallbackOnly) {
		t.Fatalf("expected first declared rule to win, got %s", out.Source)
	}
}

func TestNavigationStoresPageInAppShell(t *testing.T) {
	f := newFixture(t, true)
	f.respond("/dashboard", 200, "<html>dash</html>")

	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodGet, URL: "/dashboard", Navigate: true})
	if out.Result != Responded || out.Source != SourceAppShell {
		t.Fatalf("unexpected outcome %+v", out)
	}
	f.supervisor.Settle()

	store, _ := f.provider.Open(context.Background(), shellStore)
	if _, ok, _ := store.Match(context.Background(), cache.Request{URL: "/dashboard"}); !ok {
		t.Fatalf("navigation response should be stored in the app shell cache")
	}
}

func TestNavigationOfflineFallsBackToShell(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, shellStore, "/", "<html>shell</html>")

	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodGet, URL: "/settings", Navigate: true})
	if out.Result != Responded || string(out.Snapshot.Body) != "<html>shell</html>" {
		t.Fatalf("expected app shell fallback, got %+v", out)
	}
}

func TestNavigationOfflinePrefersExactPage(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, shellStore, "/", "<html>shell</html>")
	f.seed(t, shellStore, "/settings", "<html>settings</html>")

	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodGet, URL: "/settings", Navigate: true})
	if string(out.Snapshot.Body) != "<html>settings</html>" {
		t.Fatalf("expected cached page, got %s", string(out.Snapshot.Body))
	}
}

func TestNavigationOfflineWithoutShellIsNoResponse(t *testing.T) {
	f := newFixture(t, true)
	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodGet, URL: "/settings", Navigate: true})
	if out.Result != NoResponse || !errors.Is(out.Err, cache.ErrCacheMiss) {
		t.Fatalf("expected NoResponse with cache miss, got %+v", out)
	}
}

func TestNavigationUsesRouterWhenOfflineDisabled(t *testing.T) {
	f := newFixture(t, false)
	out := f.interceptor.Intercept(context.Background(), cache.Request{Method: http.MethodGet, URL: "/", Navigate: true})
	if out.Result != NotIntercepted {
		t.Fatalf("expected NotIntercepted, got %s", out.Result)
	}
}

func TestIsNavigation(t *testing.T) {
	testCases := []struct {
		method string
		header http.Header
		want   bool
	}{
		{http.MethodGet, http.Header{"Sec-Fetch-Mode": {"navigate"}}, true},
		{http.MethodGet, http.Header{"Sec-Fetch-Mode": {"cors"}, "Accept": {"text/html"}}, false},
		{http.MethodGet, http.Header{"Accept": {"text/html,application/xhtml+xml"}}, true},
		{http.MethodGet, http.Header{"Accept": {"application/json"}}, false},
		{http.MethodPost, http.Header{"Sec-Fetch-Mode": {"navigate"}}, false},
	}
	for _, tc := range testCases {
		if got := IsNavigation(tc.method, tc.header); got != tc.want {
			t.Fatalf("IsNavigation(%s, %v) = %v, want %v", tc.method, tc.header, got, tc.want)
		}
	}
}
