package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jinford/codeindex/internal/core/ingestion"
	"github.com/jinford/codeindex/internal/infra/cachestore"
	"github.com/jinford/codeindex/internal/infra/git"
	"github.com/jinford/codeindex/internal/infra/ignore"
	"github.com/jinford/codeindex/internal/infra/openai"
	"github.com/jinford/codeindex/internal/infra/postgres"
	"github.com/jinford/codeindex/internal/infra/qdrant"
	"github.com/jinford/codeindex/internal/infra/tokenizer"
	"github.com/jinford/codeindex/internal/platform/config"
	"github.com/jinford/codeindex/internal/platform/database"
)

const (
	// entriesDir は FileStore がエントリを置く CACHE_DIR 配下のディレクトリ
	entriesDir = "entries"
	// sqliteFile は SQLiteStore のファイル名
	sqliteFile = "cache.db"
)

// Container はインデックス処理の依存関係を保持する
type Container struct {
	Config     *config.Config
	Logger     *slog.Logger
	Pipeline   *ingestion.IndexPipeline
	Inspector  *ingestion.Inspector
	Repository ingestion.RepositoryInfo

	closers []func() error
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     ingestion.Embedder
	vectorStore  ingestion.VectorStore
	store        ingestion.Store
	tokenCounter ingestion.TokenCounter
	scanOnly     bool
}

// ContainerOption は Container 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder ingestion.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerVectorStore はベクトルDBを差し替える
func WithContainerVectorStore(store ingestion.VectorStore) ContainerOption {
	return func(opts *containerOptions) {
		opts.vectorStore = store
	}
}

// WithContainerStore はキャッシュストアを差し替える
func WithContainerStore(store ingestion.Store) ContainerOption {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter ingestion.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithScanOnly はスキャンとトークン計測に必要なものだけを構築する
// Embedding サービスやベクトルDBには接続しない
func WithScanOnly() ContainerOption {
	return func(opts *containerOptions) {
		opts.scanOnly = true
	}
}

// New は設定からコンテナを生成する
func New(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (_ *Container, err error) {
	options := containerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{Config: cfg, Logger: logger}
	defer func() {
		// 途中で失敗した場合は作成済みのリソースを解放する
		if err != nil {
			_ = c.Close()
		}
	}()

	counter := options.tokenCounter
	if counter == nil {
		counter, err = tokenizer.NewTokenCounter(cfg.TokenizerEncoding)
		if err != nil {
			return nil, err
		}
	}

	filter, err := ingestion.NewTokenFilter(cfg.TokenLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	// キャッシュディレクトリがルート配下にある場合は走査対象から外す
	matcher, err := ignore.NewMatcher(cfg.Scan.Root, cfg.Scan.IgnorePatterns, cfg.Scan.UseGitignore,
		cacheIgnorePatterns(cfg.Scan.Root, cfg.Cache.Dir)...)
	if err != nil {
		return nil, err
	}
	scanner := ingestion.NewPathScanner(matcher, logger)
	c.Inspector = ingestion.NewInspector(scanner, counter, filter)

	if options.scanOnly {
		return c, nil
	}

	embedder := options.embedder
	if embedder == nil {
		embedder, err = newEmbedder(cfg)
		if err != nil {
			return nil, err
		}
	}

	store := options.store
	if store == nil {
		store, err = c.newStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	vectorStore := options.vectorStore
	if vectorStore == nil {
		vectorStore, err = c.newVectorStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	repo, repoErr := git.NewInspector().Inspect(ctx, cfg.Scan.Root)
	if repoErr != nil {
		logger.Warn("リポジトリ情報を取得できませんでした", "root", cfg.Scan.Root, "error", repoErr)
	}
	c.Repository = repo

	failureDir := ""
	if cfg.Cache.FailureLog {
		failureDir = cfg.Cache.Dir
	}
	failures, err := ingestion.NewFailureLog(failureDir)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, failures.Close)

	keys := newKeyScheme(cfg.Cache.KeyScheme, counter, embedder)

	c.Pipeline = ingestion.NewIndexPipeline(
		scanner,
		ingestion.NewFileCache(store, keys, counter, filter, ingestion.NewEnryDetector(), logger),
		ingestion.NewVectorCache(store, keys, embedder, cfg.Embedding.Timeout, logger),
		ingestion.NewBatchUpserter(vectorStore, ingestion.UpserterConfig{
			Collection:     cfg.VectorStore.CollectionName,
			VectorSize:     cfg.VectorStore.VectorSize,
			Distance:       ingestion.DistanceCosine,
			BatchSize:      cfg.VectorStore.BatchSize,
			Concurrency:    cfg.VectorStore.UpsertConcurrency,
			SkipUnembedded: cfg.VectorStore.SkipUnembedded,
			Repository:     repo,
		}, logger),
		failures,
		ingestion.PipelineConfig{
			Root:                 cfg.Scan.Root,
			MaxFiles:             cfg.Scan.MaxFiles,
			EmbeddingConcurrency: cfg.Embedding.Concurrency,
			AggregatePath:        cfg.AggregatePath(),
		},
		logger,
	)

	return c, nil
}

// Close は保持しているリソースを作成と逆順に解放する
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func newEmbedder(cfg *config.Config) (ingestion.Embedder, error) {
	if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is required", config.ErrInvalidConfig)
	}

	var embedder ingestion.Embedder = openai.NewEmbedder(cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithMaxRetries(cfg.Embedding.MaxRetries),
		openai.WithRequestTimeout(cfg.Embedding.Timeout),
	)
	if cfg.Embedding.RPM > 0 {
		embedder = ingestion.NewThrottledEmbedder(embedder, cfg.Embedding.RPM)
	}
	return embedder, nil
}

func (c *Container) newStore(ctx context.Context, cfg *config.Config) (ingestion.Store, error) {
	var store ingestion.Store
	switch cfg.Cache.Backend {
	case "sqlite":
		s, err := cachestore.NewSQLiteStore(ctx, filepath.Join(cfg.Cache.Dir, sqliteFile))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, s.Close)
		store = s
	default:
		s, err := cachestore.NewFileStore(filepath.Join(cfg.Cache.Dir, entriesDir))
		if err != nil {
			return nil, err
		}
		store = s
	}

	if cfg.Cache.MemoryEntries > 0 {
		return cachestore.NewLRUStore(store, cfg.Cache.MemoryEntries)
	}
	return store, nil
}

func (c *Container) newVectorStore(ctx context.Context, cfg *config.Config) (ingestion.VectorStore, error) {
	switch cfg.VectorStore.Backend {
	case "qdrant":
		store, err := qdrant.NewStore(qdrant.Config{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		return store, nil
	default:
		pool, err := database.Connect(ctx, database.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() error {
			pool.Close()
			return nil
		})
		return postgres.NewVectorStore(ctx, pool)
	}
}

// cacheIgnorePatterns は cacheDir が root 配下にある場合、それを除外するアンカー付きパターンを返す
func cacheIgnorePatterns(root, cacheDir string) []string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil
	}
	absCache, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(absRoot, absCache)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return []string{"/" + filepath.ToSlash(rel) + "/"}
}

func newKeyScheme(scheme string, counter ingestion.TokenCounter, embedder ingestion.Embedder) ingestion.KeyScheme {
	if scheme == "hashed" {
		return ingestion.HashedKeys{
			RecordVersion: counter.Encoding(),
			VectorVersion: embedder.ModelName(),
		}
	}
	return ingestion.BaseNameKeys{}
}
