package config

import (
	"fmt"
	"time"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/lifecycle"
	"github.com/any-hub/edge-cache/internal/strategy"
)

// Backend 返回已校验的存储后端。
func (c *Config) Backend() cache.Backend {
	backend, err := cache.ParseBackend(c.Global.StorageBackend)
	if err != nil {
		return cache.BackendFS
	}
	return backend
}

// StoreNames 根据版本号与前缀计算当前版本的缓存名称。
func (c *Config) StoreNames() lifecycle.StoreNames {
	return lifecycle.NamesFor(c.Cache.Version, c.Cache.PrecachePrefix, c.Cache.AppShellCacheName, c.Cache.DynamicPrefix)
}

// Rules 按声明顺序编译 [[Strategy]] 表（假定 Validate 已经通过）。
func (c *Config) Rules() ([]strategy.Rule, error) {
	rules := make([]strategy.Rule, 0, len(c.Strategies))
	for i, raw := range c.Strategies {
		rule, err := strategy.CompileRule(raw.Matches, raw.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strategyField(i, "Matches"), err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Classifier 以配置的协议黑名单构造响应分类器。
func (c *Config) Classifier() cache.Classifier {
	return cache.NewClassifier(c.Cache.ExcludedSchemes)
}

// UpstreamTimeout 返回上游请求超时。
func (c *Config) UpstreamTimeout() time.Duration {
	return c.Global.UpstreamTimeout.DurationValue()
}
