// Package interceptor decides, for every incoming request, whether the edge
// answers it from the strategy engine or leaves it to the default handler.
// Failures never escape: an executor error degrades to NoResponse and the
// caller falls back to an uncached passthrough.
package interceptor

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/metrics"
	"github.com/any-hub/edge-cache/internal/strategy"
)

// Result 表示拦截结论。
type Result int

const (
	// NotIntercepted 表示请求不归缓存引擎处理。
	NotIntercepted Result = iota
	// Responded 表示 Outcome.Snapshot 即为响应。
	Responded
	// NoResponse 表示引擎接手了请求但拿不到响应，调用方应走默认处理。
	NoResponse
)

func (r Result) String() string {
	switch r {
	case Responded:
		return "responded"
	case NoResponse:
		return "no_response"
	default:
		return "not_intercepted"
	}
}

// SourceAppShell 标记由离线导航逻辑给出的响应。
const SourceAppShell = "app-shell"

// Outcome 是一次拦截的结果；Source 为策略名或 app-shell。
type Outcome struct {
	Result   Result
	Snapshot *cache.Snapshot
	Source   string
	Err      error
}

// Lifetime 在拦截期间延长进程生命周期。
type Lifetime interface {
	Extend() (release func())
}

// Options 在启动时构造一次，之后只读。
type Options struct {
	Router    *strategy.Router
	Executors strategy.Set

	// 离线导航：网络失败时用 app shell 兜底
	Offline       bool
	AppShellStore string
	AppShellURL   string
	Provider      cache.Provider
	Fetcher       strategy.Fetcher
	Classifier    cache.Classifier
	Tasks         strategy.Spawner

	Lifetime Lifetime
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
}

// Interceptor 组合路由与执行器，对外只暴露 Intercept。
type Interceptor struct {
	opts Options
}

func New(opts Options) (*Interceptor, error) {
	if opts.Router == nil {
		return nil, errors.New("router is required")
	}
	for _, rule := range opts.Router.Rules() {
		if _, ok := opts.Executors[rule.Type]; !ok {
			return nil, &strategy.UnknownTypeError{Value: string(rule.Type)}
		}
	}
	if opts.Offline {
		if opts.Provider == nil || opts.Fetcher == nil {
			return nil, errors.New("offline navigation requires provider and fetcher")
		}
		if opts.AppShellStore == "" {
			return nil, errors.New("offline navigation requires an app shell store")
		}
		if opts.AppShellURL == "" {
			opts.AppShellURL = "/"
		}
		opts.AppShellURL = cache.CanonicalURL(opts.AppShellURL)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Interceptor{opts: opts}, nil
}

// Intercept 路由请求并执行对应策略，从不返回错误。
func (i *Interceptor) Intercept(ctx context.Context, req cache.Request) Outcome {
	if !req.IsGet() {
		return Outcome{Result: NotIntercepted}
	}
	if i.opts.Lifetime != nil {
		release := i.opts.Lifetime.Extend()
		defer release()
	}

	if req.Navigate && i.opts.Offline {
		return i.navigate(ctx, req)
	}

	rule, ok := i.opts.Router.Resolve(req.URL)
	if !ok {
		return Outcome{Result: NotIntercepted}
	}
	exec := i.opts.Executors[rule.Type]
	snap, err := exec.Execute(ctx, req)
	if err != nil {
		i.opts.Logger.WithError(err).WithFields(logrus.Fields{
			"action":   "intercept",
			"strategy": string(rule.Type),
			"url":      req.Key(),
		}).Warn("strategy_failed")
		return Outcome{Result: NoResponse, Source: string(rule.Type), Err: err}
	}
	return Outcome{Result: Responded, Snapshot: snap, Source: string(rule.Type)}
}

// IsNavigation 判断请求是否为页面导航：Sec-Fetch-Mode 为 navigate，
// 或缺少该头时 GET 且 Accept 包含 text/html。
func IsNavigation(method string, header http.Header) bool {
	if method != "" && method != http.MethodGet {
		return false
	}
	if mode := header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return strings.Contains(strings.ToLower(header.Get("Accept")), "text/html")
}
