package container

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/codeindex/internal/core/ingestion"
	"github.com/jinford/codeindex/internal/platform/config"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

func (stubEmbedder) ModelName() string { return "stub" }

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return []float32{1, 2, 3}, nil
}

func (e *countingEmbedder) ModelName() string { return "counting" }

func (e *countingEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubVectorStore struct {
	mu       sync.Mutex
	upserted int
}

func (s *stubVectorStore) ListCollections(ctx context.Context) ([]ingestion.CollectionInfo, error) {
	return nil, nil
}

func (s *stubVectorStore) CreateCollection(ctx context.Context, name string, params ingestion.CollectionParams) error {
	return nil
}

func (s *stubVectorStore) Upsert(ctx context.Context, collection string, batch ingestion.PointBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted += batch.Len()
	return nil
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	return &config.Config{
		Scan:              config.ScanConfig{Root: root, IgnorePatterns: []string{".git"}},
		TokenLimit:        100,
		TokenizerEncoding: "cl100k_base",
		Cache: config.CacheConfig{
			Dir:           t.TempDir(),
			Backend:       "file",
			KeyScheme:     "basename",
			MemoryEntries: 16,
			AggregateFile: "records.json",
		},
		Embedding:   config.EmbeddingConfig{Concurrency: 2},
		VectorStore: config.VectorStoreConfig{Backend: "pgvector", CollectionName: "codebase", VectorSize: 3, BatchSize: 10, UpsertConcurrency: 1},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNew_WiresPipeline(t *testing.T) {
	// Setup
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	cfg := testConfig(t, root)
	vectorStore := &stubVectorStore{}

	// Execute
	c, err := New(context.Background(), cfg,
		WithContainerLogger(testLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerVectorStore(vectorStore),
	)
	require.NoError(t, err)
	defer c.Close()

	stats, err := c.Pipeline.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Admitted)
	assert.Equal(t, 1, stats.Embedded)
	assert.Equal(t, 1, vectorStore.upserted)
	assert.FileExists(t, filepath.Join(cfg.Cache.Dir, entriesDir, "main.go"))
	assert.FileExists(t, filepath.Join(cfg.Cache.Dir, entriesDir, "vector_main.go"))
	assert.FileExists(t, cfg.AggregatePath())
}

func TestNew_SQLiteBackendWithHashedKeys(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	cfg := testConfig(t, root)
	cfg.Cache.Backend = "sqlite"
	cfg.Cache.KeyScheme = "hashed"

	c, err := New(context.Background(), cfg,
		WithContainerLogger(testLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerVectorStore(&stubVectorStore{}),
	)
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Embedded)

	second, err := c.Pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.VectorCacheHits)
	assert.FileExists(t, filepath.Join(cfg.Cache.Dir, sqliteFile))
}

func TestNew_ScanOnly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0o644))

	// Embedding やベクトルDBの設定がなくても構築できる
	c, err := New(context.Background(), testConfig(t, root), WithScanOnly(), WithContainerLogger(testLogger()))
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Pipeline)
	entries, _, err := c.Inspector.Inspect(context.Background(), root, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Admitted)
}

func TestNew_RequiresEmbeddingCredentials(t *testing.T) {
	_, err := New(context.Background(), testConfig(t, t.TempDir()),
		WithContainerLogger(testLogger()),
		WithContainerVectorStore(&stubVectorStore{}),
	)

	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewKeyScheme(t *testing.T) {
	counter := fakeCounter{}
	assert.Equal(t, ingestion.BaseNameKeys{}, newKeyScheme("basename", counter, stubEmbedder{}))
	assert.Equal(t,
		ingestion.HashedKeys{RecordVersion: "fake", VectorVersion: "stub"},
		newKeyScheme("hashed", counter, stubEmbedder{}),
	)
}

type fakeCounter struct{}

func (fakeCounter) CountTokens(text string) (int, error) { return len(text), nil }
func (fakeCounter) Encoding() string { return "fake" }

// ストアの差し替えが使われることを確認する
type recordingStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *recordingStore) Has(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *recordingStore) Get(ctx context.Context, key string) (mo.Option[[]byte], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return mo.Some(v), nil
	}
	return mo.None[[]byte](), nil
}

func (s *recordingStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func TestNew_WithContainerStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	store := &recordingStore{data: map[string][]byte{}}

	c, err := New(context.Background(), testConfig(t, root),
		WithContainerLogger(testLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerVectorStore(&stubVectorStore{}),
		WithContainerStore(store),
		WithContainerTokenCounter(fakeCounter{}),
	)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, store.data, "a.txt")
	assert.Contains(t, store.data, "vector_a.txt")
}

func TestNew_CacheDirInsideRootIsNotIndexed(t *testing.T) {
	tests := []struct {
		name     string
		cacheDir string
		patterns []string
		backend  string
	}{
		{name: "default directory name with default patterns", cacheDir: ".codeindex-cache", backend: "file"},
		{name: "custom nested directory with custom patterns", cacheDir: filepath.Join("build", "index-cache"), patterns: []string{".git"}, backend: "file"},
		{name: "sqlite backend", cacheDir: "cache", patterns: []string{".git"}, backend: "sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			root := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
			cfg := testConfig(t, root)
			cfg.Scan.IgnorePatterns = tt.patterns
			cfg.Cache.Dir = filepath.Join(root, tt.cacheDir)
			cfg.Cache.Backend = tt.backend
			cfg.Cache.FailureLog = true
			embedder := &countingEmbedder{}
			vectorStore := &stubVectorStore{}

			c, err := New(context.Background(), cfg,
				WithContainerLogger(testLogger()),
				WithContainerEmbedder(embedder),
				WithContainerVectorStore(vectorStore),
			)
			require.NoError(t, err)
			defer c.Close()

			// Execute
			first, err := c.Pipeline.Run(context.Background())
			require.NoError(t, err)
			second, err := c.Pipeline.Run(context.Background())
			require.NoError(t, err)

			// Assert
			assert.Equal(t, 1, first.ScannedFiles)
			assert.Equal(t, 1, second.ScannedFiles)
			assert.Equal(t, 1, embedder.Calls(), "rerun must not embed cache files")
			assert.Zero(t, second.Embedded)
			assert.Equal(t, 1, second.VectorCacheHits)
			assert.Equal(t, 2, vectorStore.upserted)
		})
	}
}

func TestCacheIgnorePatterns(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name     string
		cacheDir string
		want     []string
	}{
		{name: "direct child", cacheDir: filepath.Join(root, ".codeindex-cache"), want: []string{"/.codeindex-cache/"}},
		{name: "nested", cacheDir: filepath.Join(root, "build", "cache"), want: []string{"/build/cache/"}},
		{name: "outside root", cacheDir: t.TempDir(), want: nil},
		{name: "sibling with common prefix", cacheDir: root + "-cache", want: nil},
		{name: "root itself", cacheDir: root, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cacheIgnorePatterns(root, tt.cacheDir))
		})
	}
}
