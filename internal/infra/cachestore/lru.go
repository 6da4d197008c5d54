package cachestore

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/mo"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

// LRUStore は永続ストアの前段に置くインメモリの読み込みキャッシュ
// 書き込みは常に永続ストアへ通す
type LRUStore struct {
	inner ingestion.Store
	cache *lru.Cache[string, []byte]
}

// NewLRUStore は size 件まで保持する LRUStore を作成する
func NewLRUStore(inner ingestion.Store, size int) (*LRUStore, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &LRUStore{inner: inner, cache: cache}, nil
}

// Has はメモリ上にあれば永続ストアを参照せずに true を返す
func (s *LRUStore) Has(ctx context.Context, key string) (bool, error) {
	if s.cache.Contains(key) {
		return true, nil
	}
	return s.inner.Has(ctx, key)
}

// Get はメモリ上の値を返し、なければ永続ストアから読み込んでメモリに載せる
func (s *LRUStore) Get(ctx context.Context, key string) (mo.Option[[]byte], error) {
	if value, ok := s.cache.Get(key); ok {
		return mo.Some(clone(value)), nil
	}

	value, err := s.inner.Get(ctx, key)
	if err != nil {
		return value, err
	}
	if data, ok := value.Get(); ok {
		s.cache.Add(key, clone(data))
	}
	return value, nil
}

// Put は永続ストアに書き込み、成功した場合のみメモリを更新する
func (s *LRUStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.inner.Put(ctx, key, value); err != nil {
		s.cache.Remove(key)
		return err
	}
	s.cache.Add(key, clone(value))
	return nil
}

// Len はメモリ上のエントリ数を返す
func (s *LRUStore) Len() int {
	return s.cache.Len()
}

// clone は呼び出し側の変更がキャッシュに波及しないようにコピーする
func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

var _ ingestion.Store = (*LRUStore)(nil)
