package cachestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/mo"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

// FileStore はキーごとに1ファイルを dir 直下に保存する
type FileStore struct {
	dir string
}

// NewFileStore は dir を作成して FileStore を返す
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Has はキーのファイルが存在するかを返す
func (s *FileStore) Has(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	info, err := os.Stat(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat cache entry %q: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// Get はキーのファイル内容を返す。存在しない場合は None
func (s *FileStore) Get(ctx context.Context, key string) (mo.Option[[]byte], error) {
	if err := validateKey(key); err != nil {
		return mo.None[[]byte](), err
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return mo.None[[]byte](), nil
	}
	if err != nil {
		return mo.None[[]byte](), fmt.Errorf("failed to read cache entry %q: %w", key, err)
	}
	return mo.Some(data), nil
}

// Put は一時ファイルに書いてから rename し、途中で中断しても壊れたエントリを残さない
func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(value)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry %q: %w", key, err)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit cache entry %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

var _ ingestion.Store = (*FileStore)(nil)
