package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/strategy"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// 未知策略类型与非法正则都在这里被拒绝，运行时不会再遇到。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	backend, err := cache.ParseBackend(g.StorageBackend)
	if err != nil {
		return newFieldError("Global.StorageBackend", "仅支持 "+cache.SupportedBackends)
	}
	if backend != cache.BackendMemory && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ShutdownTimeout.DurationValue() < 0 {
		return newFieldError("Global.ShutdownTimeout", "不能为负数")
	}

	cc := c.Cache
	if cc.Version == "" {
		return newFieldError("Cache.Version", "不能为空")
	}
	if strings.ContainsAny(cc.Version, `/\ `) {
		return newFieldError("Cache.Version", "不允许包含空格或路径分隔符")
	}
	for field, value := range map[string]string{
		"Cache.PrecachePrefix":    cc.PrecachePrefix,
		"Cache.DynamicPrefix":     cc.DynamicPrefix,
		"Cache.AppShellCacheName": cc.AppShellCacheName,
	} {
		if strings.TrimSpace(value) == "" {
			return newFieldError(field, "不能为空")
		}
		if strings.ContainsAny(value, `/\`) {
			return newFieldError(field, "不允许包含路径分隔符")
		}
	}
	if cc.CacheBustParam == "" {
		return newFieldError("Cache.CacheBustParam", "不能为空")
	}
	if cc.InstallConcurrency < 0 {
		return newFieldError("Cache.InstallConcurrency", "不能为负数")
	}
	for i, entry := range cc.Precache {
		if strings.TrimSpace(entry) == "" {
			return newFieldError(fmt.Sprintf("Cache.Precache[%d]", i), "不能为空")
		}
	}

	for i, rule := range c.Strategies {
		if _, err := strategy.ParseType(rule.Type); err != nil {
			return newFieldError(strategyField(i, "Type"), "仅支持 "+strategy.SupportedTypes)
		}
		if len(rule.Matches) == 0 {
			return newFieldError(strategyField(i, "Matches"), "至少需要一个匹配规则")
		}
		if _, err := strategy.CompileRule(rule.Matches, rule.Type); err != nil {
			return newFieldError(strategyField(i, "Matches"), err.Error())
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
