package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/mo"
	_ "modernc.org/sqlite"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

// DriverName は modernc.org/sqlite のドライバ名
const DriverName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore は単一の SQLite ファイルにエントリを保存する
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore は dbPath のデータベースを開き、テーブルを作成する
// dbPath に ":memory:" を指定するとインメモリで動作する
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite は単一ライター
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if dbPath != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close はデータベースを閉じる
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Has はキーが存在するかを返す
func (s *SQLiteStore) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM cache_entries WHERE key = ?)", key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check cache entry %q: %w", key, err)
	}
	return exists, nil
}

// Get はキーの値を返す。存在しない場合は None
func (s *SQLiteStore) Get(ctx context.Context, key string) (mo.Option[[]byte], error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM cache_entries WHERE key = ?", key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return mo.None[[]byte](), nil
	}
	if err != nil {
		return mo.None[[]byte](), fmt.Errorf("failed to read cache entry %q: %w", key, err)
	}
	return mo.Some(value), nil
}

// Put はキーの値を保存する（既存の値は上書き）
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry %q: %w", key, err)
	}
	return nil
}

var _ ingestion.Store = (*SQLiteStore)(nil)
