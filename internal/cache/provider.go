package cache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Backend 标识持久化实现。
type Backend string

const (
	BackendFS      Backend = "fs"
	BackendLevelDB Backend = "leveldb"
	BackendSQLite  Backend = "sqlite"
	BackendMemory  Backend = "memory"
)

// SupportedBackends 供配置校验输出提示。
const SupportedBackends = "fs|leveldb|sqlite|memory"

// ParseBackend 规范化配置中的后端名称，空值回退到 fs。
func ParseBackend(raw string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(raw))) {
	case "", BackendFS:
		return BackendFS, nil
	case BackendLevelDB:
		return BackendLevelDB, nil
	case BackendSQLite:
		return BackendSQLite, nil
	case BackendMemory:
		return BackendMemory, nil
	default:
		return "", fmt.Errorf("unsupported storage backend: %s", raw)
	}
}

// NewProvider 根据后端类型在 storagePath 下构建 Provider，进程内共享一份实例。
func NewProvider(backend Backend, storagePath string) (Provider, error) {
	switch backend {
	case BackendFS, "":
		return NewFSProvider(storagePath)
	case BackendLevelDB:
		return NewLevelDBProvider(filepath.Join(storagePath, "leveldb"))
	case BackendSQLite:
		return NewSQLiteProvider(filepath.Join(storagePath, "cache.db"))
	case BackendMemory:
		return NewMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
