package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// NewMemoryProvider 返回进程内缓存，重启即丢失，适合测试与临时部署。
func NewMemoryProvider() Provider {
	return &memProvider{stores: make(map[string]*memStore)}
}

type memProvider struct {
	mu     sync.RWMutex
	stores map[string]*memStore
}

type memStore struct {
	name string

	mu      sync.RWMutex
	entries map[string]*Snapshot
}

func (p *memProvider) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("open", name, "", err)
	}
	if err := validateStoreName(name); err != nil {
		return nil, storeErr("open", name, "", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	store, ok := p.stores[name]
	if !ok {
		store = &memStore{name: name, entries: make(map[string]*Snapshot)}
		p.stores[name] = store
	}
	return store, nil
}

func (p *memProvider) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storeErr("delete", name, "", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.stores[name]
	delete(p.stores, name)
	return ok, nil
}

func (p *memProvider) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("keys", "", "", err)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.stores))
	for name := range p.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *memProvider) Has(ctx context.Context, name string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.stores[name]
	return ok, nil
}

func (p *memProvider) Close() error {
	return nil
}

func (s *memStore) Name() string {
	return s.name
}

func (s *memStore) Match(ctx context.Context, req Request) (*Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, storeErr("match", s.name, req.Key(), err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.entries[req.Key()]
	if !ok {
		return nil, false, nil
	}
	return snap.Clone(), true, nil
}

func (s *memStore) Put(ctx context.Context, req Request, snap *Snapshot) error {
	key := req.Key()
	if snap == nil {
		return storeErr("put", s.name, key, errors.New("nil snapshot"))
	}
	if err := ctx.Err(); err != nil {
		return storeErr("put", s.name, key, err)
	}
	stored := snap.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = stored
	return nil
}

func (s *memStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("keys", s.name, "", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
