package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听、日志、存储与上游。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	StoragePath     string   `mapstructure:"StoragePath"`
	Upstream        string   `mapstructure:"Upstream"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// CacheConfig 描述一个部署版本的缓存：版本号、缓存命名、预缓存列表与离线导航。
type CacheConfig struct {
	Version            string   `mapstructure:"Version"`
	Offline            bool     `mapstructure:"Offline"`
	AppShellCacheName  string   `mapstructure:"AppShellCacheName"`
	AppShellURL        string   `mapstructure:"AppShellURL"`
	PrecachePrefix     string   `mapstructure:"PrecachePrefix"`
	DynamicPrefix      string   `mapstructure:"DynamicPrefix"`
	CacheBustParam     string   `mapstructure:"CacheBustParam"`
	ExcludedSchemes    []string `mapstructure:"ExcludedSchemes"`
	InstallConcurrency int      `mapstructure:"InstallConcurrency"`
	SkipWaiting        bool     `mapstructure:"SkipWaiting"`
	Precache           []string `mapstructure:"Precache"`
}

// StrategyConfig 对应一个 [[Strategy]] 表：任一 Matches 正则命中即使用 Type。
type StrategyConfig struct {
	Matches []string `mapstructure:"Matches"`
	Type    string   `mapstructure:"Type"`
}

// Config 是 TOML 文件映射的整体结构，加载后只读。
type Config struct {
	Global     GlobalConfig     `mapstructure:",squash"`
	Cache      CacheConfig      `mapstructure:",squash"`
	Strategies []StrategyConfig `mapstructure:"Strategy"`
}
