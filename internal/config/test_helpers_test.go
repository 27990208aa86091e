package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testConfigPath 指向 testdata 下的固定样例。
func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("缺少测试配置 %s: %v", name, err)
	}
	return path
}

// writeTempConfig 把 TOML 内容写入临时目录并返回路径。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edge-cache.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// validConfig 返回一份已填好默认值、可直接通过 Validate 的配置。
func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StorageBackend:  "fs",
			StoragePath:     "./data",
			Upstream:        "https://app.example.com",
			UpstreamTimeout: Duration(time.Second),
		},
		Cache: CacheConfig{
			Version:            "1.01",
			AppShellCacheName:  "APPSHELL",
			AppShellURL:        "/",
			PrecachePrefix:     "PRECACHE",
			DynamicPrefix:      "DYNAMIC",
			CacheBustParam:     "_cb",
			InstallConcurrency: 2,
		},
		Strategies: []StrategyConfig{
			{Matches: []string{`\.css$`}, Type: "prefer-cache"},
		},
	}
}
