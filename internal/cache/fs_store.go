package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".meta"
)

// NewFSProvider 以 basePath 为根目录构建磁盘缓存。磁盘布局：
//
//	<basePath>/<StoreName>/<sha1(key)>-<rand>.body   # 响应正文，每次写入一个新文件
//	<basePath>/<StoreName>/<sha1(key)>.meta          # 状态码、头部、原始键与正文文件名（JSON）
//
// meta 的原子替换即为提交点，读取方只会看到同一次写入的 meta 与正文。
func NewFSProvider(basePath string) (Provider, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fsProvider{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fsProvider 通过 entryLock 避免同一条目并发写入，所有 Store 共享同一把锁表。
type fsProvider struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fsStore struct {
	provider *fsProvider
	name     string
	dir      string
}

// fsMeta 是 .meta 文件的 JSON 结构。
type fsMeta struct {
	Key      string              `json:"key"`
	Body     string              `json:"body"`
	URL      string              `json:"url"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	Type     ResponseType        `json:"type"`
	StoredAt time.Time           `json:"stored_at"`
}

func (p *fsProvider) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("open", name, "", err)
	}
	dir, err := p.storeDir(name)
	if err != nil {
		return nil, storeErr("open", name, "", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeErr("open", name, "", err)
	}
	return &fsStore{provider: p, name: name, dir: dir}, nil
}

func (p *fsProvider) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storeErr("delete", name, "", err)
	}
	dir, err := p.storeDir(name)
	if err != nil {
		return false, storeErr("delete", name, "", err)
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storeErr("delete", name, "", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, storeErr("delete", name, "", err)
	}
	return true, nil
}

func (p *fsProvider) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("keys", "", "", err)
	}
	entries, err := os.ReadDir(p.basePath)
	if err != nil {
		return nil, storeErr("keys", "", "", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *fsProvider) Has(ctx context.Context, name string) (bool, error) {
	dir, err := p.storeDir(name)
	if err != nil {
		return false, storeErr("has", name, "", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storeErr("has", name, "", err)
	}
	return info.IsDir(), nil
}

func (p *fsProvider) Close() error {
	return nil
}

func (p *fsProvider) storeDir(name string) (string, error) {
	if err := validateStoreName(name); err != nil {
		return "", err
	}
	return filepath.Join(p.basePath, name), nil
}

func (p *fsProvider) lockEntry(key string) func() {
	p.mu.Lock()
	lock := p.locks[key]
	if lock == nil {
		lock = &entryLock{}
		p.locks[key] = lock
	}
	lock.refs++
	p.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		p.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func (s *fsStore) Name() string {
	return s.name
}

func (s *fsStore) Match(ctx context.Context, req Request) (*Snapshot, bool, error) {
	key := req.Key()
	if err := ctx.Err(); err != nil {
		return nil, false, storeErr("match", s.name, key, err)
	}

	// 正文可能在读 meta 之后被并发覆盖清理掉，重读 meta 即可拿到新版本
	for attempt := 0; attempt < fsMatchAttempts; attempt++ {
		meta, ok, err := s.readMeta(key)
		if err != nil || !ok {
			return nil, false, err
		}
		body, err := os.ReadFile(s.bodyPath(meta))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, false, storeErr("match", s.name, key, err)
		}
		return &Snapshot{
			URL:      meta.URL,
			Status:   meta.Status,
			Header:   http.Header(meta.Header),
			Body:     body,
			Type:     meta.Type,
			StoredAt: meta.StoredAt,
		}, true, nil
	}
	// 有 meta 没有正文，视为未命中
	return nil, false, nil
}

const fsMatchAttempts = 8

func (s *fsStore) readMeta(key string) (fsMeta, bool, error) {
	var meta fsMeta
	data, err := os.ReadFile(s.entryBase(key) + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, false, nil
		}
		return meta, false, storeErr("match", s.name, key, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, false, storeErr("match", s.name, key, err)
	}
	if meta.Key != key || meta.Body == "" {
		// sha1 碰撞或手工篡改，按未命中处理
		return meta, false, nil
	}
	return meta, true, nil
}

// bodyPath 只取文件名部分，meta 被篡改时也不会跳出缓存目录。
func (s *fsStore) bodyPath(meta fsMeta) string {
	return filepath.Join(s.dir, filepath.Base(meta.Body))
}

func (s *fsStore) Put(ctx context.Context, req Request, snap *Snapshot) error {
	key := req.Key()
	if snap == nil {
		return storeErr("put", s.name, key, errors.New("nil snapshot"))
	}
	if err := ctx.Err(); err != nil {
		return storeErr("put", s.name, key, err)
	}

	unlock := s.provider.lockEntry(s.name + "::" + key)
	defer unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return storeErr("put", s.name, key, err)
	}

	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	previous, hadPrevious, _ := s.readMeta(key)

	base := s.entryBase(key)
	bodyName, err := writeFileUnique(s.dir, filepath.Base(base)+"-*"+bodySuffix, snap.Body)
	if err != nil {
		return storeErr("put", s.name, key, err)
	}

	meta := fsMeta{
		Key:      key,
		Body:     bodyName,
		URL:      snap.URL,
		Status:   snap.Status,
		Header:   snap.Header,
		Type:     snap.Type,
		StoredAt: storedAt,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		os.Remove(filepath.Join(s.dir, bodyName))
		return storeErr("put", s.name, key, err)
	}
	if err := writeFileAtomic(s.dir, base+metaSuffix, metaData); err != nil {
		os.Remove(filepath.Join(s.dir, bodyName))
		return storeErr("put", s.name, key, err)
	}
	if hadPrevious && previous.Body != bodyName {
		os.Remove(s.bodyPath(previous))
	}
	return nil
}

func (s *fsStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("keys", s.name, "", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storeErr("keys", s.name, "", err)
	}
	keys := make([]string, 0, len(entries)/2)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, storeErr("keys", s.name, "", err)
		}
		var meta fsMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, storeErr("keys", s.name, entry.Name(), err)
		}
		keys = append(keys, meta.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fsStore) entryBase(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:]))
}

// writeFileUnique 在 dir 下按 pattern 新建文件并写入 data，返回文件名。
func writeFileUnique(dir, pattern string, data []byte) (string, error) {
	file, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := file.Name()
	_, err = file.Write(data)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(name)
		return "", err
	}
	return filepath.Base(name), nil
}

func writeFileAtomic(dir, target string, data []byte) error {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func validateStoreName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidStoreName
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return ErrInvalidStoreName
	}
	return nil
}
