package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Provider 管理按名称区分的持久化缓存空间，每个名称都内嵌版本号。
// 所有方法都可能阻塞在 I/O 上，失败时返回 *StoreError，本层不做重试。
type Provider interface {
	// Open 打开（不存在则创建）指定名称的缓存。
	Open(ctx context.Context, name string) (Store, error)

	// Delete 删除整个缓存，返回删除前是否存在。重复删除是 no-op。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 按字典序返回当前所有缓存名称。
	Keys(ctx context.Context) ([]string, error)

	// Has 判断缓存是否存在，不会隐式创建。
	Has(ctx context.Context, name string) (bool, error)

	Close() error
}

// Store 是单个命名缓存，键为请求的规范化 URL。
type Store interface {
	Name() string

	// Match 查找请求对应的快照；未命中返回 (nil, false, nil) 而不是错误。
	Match(ctx context.Context, req Request) (*Snapshot, bool, error)

	// Put 写入快照，同一键直接覆盖（last writer wins）。
	Put(ctx context.Context, req Request, snap *Snapshot) error

	// Keys 按字典序返回缓存内所有条目的键。
	Keys(ctx context.Context) ([]string, error)
}

// ResponseType 区分普通响应与跨域 opaque 响应（status 0）。
type ResponseType string

const (
	ResponseBasic  ResponseType = "basic"
	ResponseOpaque ResponseType = "opaque"
)

// Request 是进入缓存引擎的请求描述，URL 同时作为缓存键。
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	Navigate bool
}

// Key 返回请求在缓存中的规范化键。
func (r Request) Key() string {
	return CanonicalURL(r.URL)
}

// IsGet 对空 Method 也视为 GET。
func (r Request) IsGet() bool {
	return r.Method == "" || r.Method == http.MethodGet
}

// Snapshot 是一次响应的不可变副本：状态码、头、正文以及 basic/opaque 分类。
type Snapshot struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Type     ResponseType
	StoredAt time.Time
}

// Clone 深拷贝快照，写缓存与返回给调用方的副本互不影响。
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cloned := *s
	cloned.Header = s.Header.Clone()
	if s.Body != nil {
		cloned.Body = append([]byte(nil), s.Body...)
	}
	return &cloned
}

// ErrCacheMiss 表示查找缓存时没有找到条目。
var ErrCacheMiss = errors.New("cache miss")

// ErrInvalidStoreName 表示缓存名称为空或包含非法字符。
var ErrInvalidStoreName = errors.New("invalid store name")

// StoreError 包装底层存储的 I/O 失败，保留操作、缓存名与键便于日志定位。
type StoreError struct {
	Op    string
	Store string
	Key   string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s %s[%s]: %v", e.Op, e.Store, e.Key, e.Err)
	}
	if e.Store != "" {
		return fmt.Sprintf("cache %s %s: %v", e.Op, e.Store, e.Err)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op, store, key string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StoreError
	if errors.As(err, &existing) {
		return err
	}
	return &StoreError{Op: op, Store: store, Key: key, Err: err}
}

// MatchAny 按给定顺序在多个缓存中查找请求，第一个命中即返回。
// 尚未创建的缓存会被跳过，不会因为查找而被创建。
func MatchAny(ctx context.Context, provider Provider, names []string, req Request) (*Snapshot, bool, error) {
	for _, name := range names {
		exists, err := provider.Has(ctx, name)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			continue
		}
		store, err := provider.Open(ctx, name)
		if err != nil {
			return nil, false, err
		}
		snap, ok, err := store.Match(ctx, req)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return snap, true, nil
		}
	}
	return nil, false, nil
}
