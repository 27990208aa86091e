package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 键空间：
//
//	s/<store>            -> 空值，标记缓存存在
//	e/<store>\x00<key>   -> gob 编码的 levelEntry
const (
	storeMarkerPrefix = "s/"
	entryPrefix       = "e/"
	keySeparator      = "\x00"
)

// NewLevelDBProvider 在 dir 下打开（或创建）LevelDB 数据库，所有命名缓存共用一个库。
func NewLevelDBProvider(dir string) (Provider, error) {
	if dir == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelProvider{db: db}, nil
}

type levelProvider struct {
	db *leveldb.DB

	// 删除缓存与写入条目互斥，避免删除批次之后又出现孤儿条目
	mu sync.RWMutex
}

type levelStore struct {
	provider *levelProvider
	name     string
}

type levelEntry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Type     string
	StoredAt int64
}

func (p *levelProvider) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("open", name, "", err)
	}
	if err := validateStoreName(name); err != nil {
		return nil, storeErr("open", name, "", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.db.Put([]byte(storeMarkerPrefix+name), nil, nil); err != nil {
		return nil, storeErr("open", name, "", err)
	}
	return &levelStore{provider: p, name: name}, nil
}

func (p *levelProvider) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storeErr("delete", name, "", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	marker := []byte(storeMarkerPrefix + name)
	existed, err := p.db.Has(marker, nil)
	if err != nil {
		return false, storeErr("delete", name, "", err)
	}

	batch := new(leveldb.Batch)
	batch.Delete(marker)
	iter := p.db.NewIterator(util.BytesPrefix(entryKeyPrefix(name)), nil)
	for iter.Next() {
		existed = true
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return false, storeErr("delete", name, "", err)
	}
	if err := p.db.Write(batch, nil); err != nil {
		return false, storeErr("delete", name, "", err)
	}
	return existed, nil
}

func (p *levelProvider) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("keys", "", "", err)
	}
	iter := p.db.NewIterator(util.BytesPrefix([]byte(storeMarkerPrefix)), nil)
	defer iter.Release()
	var names []string
	for iter.Next() {
		names = append(names, string(iter.Key()[len(storeMarkerPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, storeErr("keys", "", "", err)
	}
	sort.Strings(names)
	return names, nil
}

func (p *levelProvider) Has(ctx context.Context, name string) (bool, error) {
	ok, err := p.db.Has([]byte(storeMarkerPrefix+name), nil)
	if err != nil {
		return false, storeErr("has", name, "", err)
	}
	return ok, nil
}

func (p *levelProvider) Close() error {
	return p.db.Close()
}

func (s *levelStore) Name() string {
	return s.name
}

func (s *levelStore) Match(ctx context.Context, req Request) (*Snapshot, bool, error) {
	key := req.Key()
	if err := ctx.Err(); err != nil {
		return nil, false, storeErr("match", s.name, key, err)
	}
	raw, err := s.provider.db.Get(entryKey(s.name, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, storeErr("match", s.name, key, err)
	}
	var entry levelEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		return nil, false, storeErr("match", s.name, key, err)
	}
	return &Snapshot{
		URL:      entry.URL,
		Status:   entry.Status,
		Header:   entry.Header,
		Body:     entry.Body,
		Type:     ResponseType(entry.Type),
		StoredAt: time.Unix(0, entry.StoredAt).UTC(),
	}, true, nil
}

func (s *levelStore) Put(ctx context.Context, req Request, snap *Snapshot) error {
	key := req.Key()
	if snap == nil {
		return storeErr("put", s.name, key, errors.New("nil snapshot"))
	}
	if err := ctx.Err(); err != nil {
		return storeErr("put", s.name, key, err)
	}
	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	entry := levelEntry{
		URL:      snap.URL,
		Status:   snap.Status,
		Header:   snap.Header,
		Body:     snap.Body,
		Type:     string(snap.Type),
		StoredAt: storedAt.UnixNano(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return storeErr("put", s.name, key, err)
	}

	s.provider.mu.RLock()
	defer s.provider.mu.RUnlock()

	batch := new(leveldb.Batch)
	batch.Put([]byte(storeMarkerPrefix+s.name), nil)
	batch.Put(entryKey(s.name, key), buf.Bytes())
	if err := s.provider.db.Write(batch, nil); err != nil {
		return storeErr("put", s.name, key, err)
	}
	return nil
}

func (s *levelStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("keys", s.name, "", err)
	}
	prefix := entryKeyPrefix(s.name)
	iter := s.provider.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()[len(prefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, storeErr("keys", s.name, "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func entryKeyPrefix(store string) []byte {
	return []byte(entryPrefix + store + keySeparator)
}

func entryKey(store, key string) []byte {
	return append(entryKeyPrefix(store), key...)
}

func init() {
	gob.Register(http.Header{})
}
