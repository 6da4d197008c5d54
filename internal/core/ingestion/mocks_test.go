package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/samber/mo"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// MemoryStore はテスト用のインメモリ Store です
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	puts    int

	HasErr error
	GetErr error
	PutErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HasErr != nil {
		return false, s.HasErr
	}
	_, ok := s.entries[key]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (mo.Option[[]byte], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return mo.None[[]byte](), s.GetErr
	}
	v, ok := s.entries[key]
	if !ok {
		return mo.None[[]byte](), nil
	}
	return mo.Some(v), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	s.entries[key] = append([]byte(nil), value...)
	s.puts++
	return nil
}

func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot は全エントリのコピーを返す
func (s *MemoryStore) Snapshot() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.entries))
	for k, v := range s.entries {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func (s *MemoryStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// WordCounter は空白区切りの単語数をトークン数とみなすテスト用 TokenCounter です
type WordCounter struct {
	mu    sync.Mutex
	calls int
}

func (c *WordCounter) CountTokens(text string) (int, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if !utf8.ValidString(text) {
		return 0, errors.New("invalid utf-8")
	}
	return len(strings.Fields(text)), nil
}

func (c *WordCounter) Encoding() string { return "words" }

func (c *WordCounter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// MockEmbedder はテスト用のモック Embedder です
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	mu    sync.Mutex
	calls int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{float32(len(text)), 1, 0.5}, nil
}

func (m *MockEmbedder) ModelName() string { return "mock-embedding" }

func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockVectorStore はテスト用のモック VectorStore です
// 呼び出し順を Calls に記録します
type MockVectorStore struct {
	ListCollectionsFunc  func(ctx context.Context) ([]CollectionInfo, error)
	CreateCollectionFunc func(ctx context.Context, name string, params CollectionParams) error
	UpsertFunc           func(ctx context.Context, collection string, batch PointBatch) error

	mu      sync.Mutex
	Calls   []string
	Created []CollectionParams
	Batches []PointBatch
}

func (m *MockVectorStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	m.record("list")
	if m.ListCollectionsFunc != nil {
		return m.ListCollectionsFunc(ctx)
	}
	return nil, nil
}

func (m *MockVectorStore) CreateCollection(ctx context.Context, name string, params CollectionParams) error {
	m.record("create:" + name)
	m.mu.Lock()
	m.Created = append(m.Created, params)
	m.mu.Unlock()
	if m.CreateCollectionFunc != nil {
		return m.CreateCollectionFunc(ctx, name, params)
	}
	return nil
}

func (m *MockVectorStore) Upsert(ctx context.Context, collection string, batch PointBatch) error {
	m.record("upsert:" + collection)
	if m.UpsertFunc != nil {
		if err := m.UpsertFunc(ctx, collection, batch); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Batches = append(m.Batches, batch)
	m.mu.Unlock()
	return nil
}

func (m *MockVectorStore) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// SortedBatches は先頭IDの昇順に並べたバッチを返します
func (m *MockVectorStore) SortedBatches() []PointBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]PointBatch(nil), m.Batches...)
	sort.Slice(out, func(i, j int) bool { return out[i].IDs[0] < out[j].IDs[0] })
	return out
}

// writeTree は files のパス（スラッシュ区切り）と内容でファイルツリーを作成します
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// words は n 単語のテキストを返します
func words(n int) string {
	return strings.TrimSpace(strings.Repeat("tok ", n))
}

// segmentMatcher はパスのいずれかの要素が names に一致すれば除外するテスト用 IgnoreMatcher です
type segmentMatcher struct {
	names []string
}

func (m segmentMatcher) ShouldIgnore(relPath string, _ bool) bool {
	for _, seg := range strings.Split(relPath, "/") {
		for _, n := range m.names {
			if seg == n {
				return true
			}
		}
	}
	return false
}
