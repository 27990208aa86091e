package lifecycle

import "strings"

// 默认的缓存名前缀，最终名称为 <prefix>-<version>。
const (
	DefaultPrecachePrefix = "PRECACHE"
	DefaultDynamicPrefix  = "DYNAMIC"
	DefaultAppShellName   = "APPSHELL"
)

// StoreNames 是某个版本拥有的全部缓存名称。
type StoreNames struct {
	Precache string
	AppShell string
	Dynamic  string
}

// NamesFor 根据前缀与版本号拼出缓存名称，空前缀回退到默认值。
func NamesFor(version, precachePrefix, appShellName, dynamicPrefix string) StoreNames {
	return StoreNames{
		Precache: versioned(orDefault(precachePrefix, DefaultPrecachePrefix), version),
		AppShell: versioned(orDefault(appShellName, DefaultAppShellName), version),
		Dynamic:  versioned(orDefault(dynamicPrefix, DefaultDynamicPrefix), version),
	}
}

// Lookup 返回全局查找顺序：预缓存、app shell、动态缓存。
func (n StoreNames) Lookup() []string {
	return []string{n.Precache, n.AppShell, n.Dynamic}
}

// All 与 Lookup 相同，用于诊断输出。
func (n StoreNames) All() []string {
	return n.Lookup()
}

// IsStale 判断缓存名是否属于旧版本：名称中不包含当前版本号即视为过期。
func IsStale(name, version string) bool {
	return !strings.Contains(name, version)
}

func versioned(prefix, version string) string {
	return prefix + "-" + version
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
