package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

var sqliteSchema = []string{
	"CREATE TABLE IF NOT EXISTS stores (name TEXT PRIMARY KEY)",
	`CREATE TABLE IF NOT EXISTS entries (
	store     TEXT NOT NULL,
	key       TEXT NOT NULL,
	url       TEXT NOT NULL,
	status    INTEGER NOT NULL,
	header    BLOB,
	body      BLOB,
	type      TEXT NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (store, key)
)`,
}

// NewSQLiteProvider 打开（或创建）path 指向的 SQLite 文件，使用纯 Go 驱动。
func NewSQLiteProvider(path string) (Provider, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable sqlite wal: %w", err)
	}
	return &sqliteProvider{db: db}, nil
}

type sqliteProvider struct {
	db         *sql.DB
	writeMutex sync.Mutex
}

type sqliteStore struct {
	provider *sqliteProvider
	name     string
}

func (p *sqliteProvider) Open(ctx context.Context, name string) (Store, error) {
	if err := validateStoreName(name); err != nil {
		return nil, storeErr("open", name, "", err)
	}
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()
	if _, err := p.db.ExecContext(ctx, "INSERT OR IGNORE INTO stores (name) VALUES (?)", name); err != nil {
		return nil, storeErr("open", name, "", err)
	}
	return &sqliteStore{provider: p, name: name}, nil
}

func (p *sqliteProvider) Delete(ctx context.Context, name string) (bool, error) {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("delete", name, "", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		tx.Rollback()
		return false, storeErr("delete", name, "", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return false, storeErr("delete", name, "", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE store = ?", name); err != nil {
		tx.Rollback()
		return false, storeErr("delete", name, "", err)
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr("delete", name, "", err)
	}
	return removed > 0, nil
}

func (p *sqliteProvider) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, storeErr("keys", "", "", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storeErr("keys", "", "", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("keys", "", "", err)
	}
	return names, nil
}

func (p *sqliteProvider) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, "SELECT 1 FROM stores WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("has", name, "", err)
	}
	return true, nil
}

func (p *sqliteProvider) Close() error {
	return p.db.Close()
}

func (s *sqliteStore) Name() string {
	return s.name
}

func (s *sqliteStore) Match(ctx context.Context, req Request) (*Snapshot, bool, error) {
	key := req.Key()
	var (
		snap     Snapshot
		header   []byte
		typ      string
		storedAt int64
	)
	err := s.provider.db.QueryRowContext(ctx,
		"SELECT url, status, header, body, type, stored_at FROM entries WHERE store = ? AND key = ?",
		s.name, key,
	).Scan(&snap.URL, &snap.Status, &header, &snap.Body, &typ, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr("match", s.name, key, err)
	}
	if len(header) > 0 {
		snap.Header = http.Header{}
		if err := json.Unmarshal(header, &snap.Header); err != nil {
			return nil, false, storeErr("match", s.name, key, err)
		}
	}
	snap.Type = ResponseType(typ)
	snap.StoredAt = time.Unix(0, storedAt).UTC()
	return &snap, true, nil
}

func (s *sqliteStore) Put(ctx context.Context, req Request, snap *Snapshot) error {
	key := req.Key()
	if snap == nil {
		return storeErr("put", s.name, key, errors.New("nil snapshot"))
	}
	header, err := json.Marshal(snap.Header)
	if err != nil {
		return storeErr("put", s.name, key, err)
	}
	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	s.provider.writeMutex.Lock()
	defer s.provider.writeMutex.Unlock()

	tx, err := s.provider.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("put", s.name, key, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO stores (name) VALUES (?)", s.name); err != nil {
		tx.Rollback()
		return storeErr("put", s.name, key, err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (store, key, url, status, header, body, type, stored_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.name, key, snap.URL, snap.Status, header, snap.Body, string(snap.Type), storedAt.UnixNano(),
	)
	if err != nil {
		tx.Rollback()
		return storeErr("put", s.name, key, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("put", s.name, key, err)
	}
	return nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.provider.db.QueryContext(ctx, "SELECT key FROM entries WHERE store = ? ORDER BY key", s.name)
	if err != nil {
		return nil, storeErr("keys", s.name, "", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, storeErr("keys", s.name, "", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("keys", s.name, "", err)
	}
	return keys, nil
}
