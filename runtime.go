package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/config"
	"github.com/any-hub/edge-cache/internal/interceptor"
	"github.com/any-hub/edge-cache/internal/lifecycle"
	"github.com/any-hub/edge-cache/internal/lifetime"
	"github.com/any-hub/edge-cache/internal/metrics"
	"github.com/any-hub/edge-cache/internal/proxy"
	"github.com/any-hub/edge-cache/internal/server"
	"github.com/any-hub/edge-cache/internal/server/routes"
	"github.com/any-hub/edge-cache/internal/strategy"
	"github.com/any-hub/edge-cache/internal/transport"
)

// edgeRuntime 持有进程内唯一的一组组件，构造后只读。
type edgeRuntime struct {
	cfg        *config.Config
	logger     *logrus.Logger
	provider   cache.Provider
	supervisor *lifetime.Supervisor
	manager    *lifecycle.Manager
	app        *fiber.App
	metrics    *metrics.Metrics
}

func buildRuntime(cfg *config.Config, logger *logrus.Logger) (*edgeRuntime, error) {
	provider, err := cache.NewProvider(cfg.Backend(), cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存后端失败: %w", err)
	}
	rt, err := assembleRuntime(cfg, logger, provider)
	if err != nil {
		provider.Close()
		return nil, err
	}
	return rt, nil
}

func assembleRuntime(cfg *config.Config, logger *logrus.Logger, provider cache.Provider) (*edgeRuntime, error) {
	m := metrics.New()
	supervisor := lifetime.New(logger)

	fetcher, err := transport.NewHTTP(transport.NewClient(cfg.UpstreamTimeout()), cfg.Global.Upstream)
	if err != nil {
		return nil, fmt.Errorf("初始化回源客户端失败: %w", err)
	}

	names := cfg.StoreNames()
	classifier := cfg.Classifier()

	manager, err := lifecycle.New(lifecycle.Options{
		Version:        cfg.Cache.Version,
		Names:          names,
		Precache:       cfg.Cache.Precache,
		CacheBustParam: cfg.Cache.CacheBustParam,
		Concurrency:    cfg.Cache.InstallConcurrency,
		SkipWaiting:    cfg.Cache.SkipWaiting,
		Provider:       provider,
		Fetcher:        fetcher,
		Classifier:     classifier,
		Lifetime:       supervisor,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化生命周期失败: %w", err)
	}

	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	router := strategy.NewRouter(rules)

	executors, err := strategy.NewSet(strategy.Deps{
		Provider:   provider,
		Fetcher:    fetcher,
		Classifier: classifier,
		Stores:     strategy.Stores{Lookup: names.Lookup(), Write: names.Dynamic},
		Tasks:      supervisor,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}

	icpt, err := interceptor.New(interceptor.Options{
		Router:        router,
		Executors:     executors,
		Offline:       cfg.Cache.Offline,
		AppShellStore: names.AppShell,
		AppShellURL:   cfg.Cache.AppShellURL,
		Provider:      provider,
		Fetcher:       fetcher,
		Classifier:    classifier,
		Tasks:         supervisor,
		Lifetime:      supervisor,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    proxy.NewHandler(icpt, fetcher, logger, m),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnostics(app, routes.Diagnostics{
		Lifecycle: manager,
		Provider:  provider,
		Router:    router,
		Metrics:   m,
	})

	return &edgeRuntime{
		cfg:        cfg,
		logger:     logger,
		provider:   provider,
		supervisor: supervisor,
		manager:    manager,
		app:        app,
		metrics:    m,
	}, nil
}

// startLifecycle 在后台执行 install/activate，请求可以在此期间照常处理。
// activate 的失败不做重试，只记录日志，由运维决定是否重启。
func (rt *edgeRuntime) startLifecycle() error {
	return rt.supervisor.WaitUntil("lifecycle", func(ctx context.Context) error {
		if err := rt.manager.Run(ctx); err != nil {
			rt.logger.WithError(err).WithFields(logrus.Fields{
				"action":  "lifecycle",
				"version": rt.manager.Version(),
				"state":   string(rt.manager.State()),
			}).Error("lifecycle_failed")
		}
		return nil
	})
}

// serve 启动生命周期与 HTTP 服务，ctx 取消后优雅退出：先停止接收请求，
// 再等待后台写缓存等任务结束，最后关闭存储。
func (rt *edgeRuntime) serve(ctx context.Context) error {
	if err := rt.startLifecycle(); err != nil {
		return err
	}

	port := rt.cfg.Global.ListenPort
	listenErr := make(chan error, 1)
	go func() {
		rt.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		listenErr <- rt.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-listenErr:
		return multierr.Append(err, rt.shutdown())
	case <-ctx.Done():
		return rt.shutdown()
	}
}

func (rt *edgeRuntime) shutdown() error {
	timeout := rt.cfg.Global.ShutdownTimeout.DurationValue()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rt.logger.WithFields(logrus.Fields{
		"action":  "shutdown",
		"pending": rt.supervisor.Pending(),
	}).Info("开始优雅退出")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := rt.app.ShutdownWithContext(ctx)
	if drainErr := rt.supervisor.Drain(ctx); drainErr != nil {
		err = multierr.Append(err, fmt.Errorf("drain background tasks: %w", drainErr))
	}
	err = multierr.Append(err, rt.provider.Close())
	return err
}
