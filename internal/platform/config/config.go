package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig は設定値が不正な場合のエラー（起動時に致命的エラーとして扱う）
var ErrInvalidConfig = errors.New("invalid configuration")

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// スキャン設定
	Scan ScanConfig

	// トークン予算
	TokenLimit        int
	TokenizerEncoding string

	// キャッシュ設定
	Cache CacheConfig

	// OpenAI設定（Embeddings用）
	OpenAI OpenAIConfig

	// Embeddingステージ設定
	Embedding EmbeddingConfig

	// ベクトルDB設定
	VectorStore VectorStoreConfig

	// Database設定（pgvector）
	Database DatabaseConfig

	// Qdrant設定
	Qdrant QdrantConfig

	// ログ設定
	Log LogConfig
}

// ScanConfig はディレクトリ走査の設定
type ScanConfig struct {
	Root           string   // 絶対パスに解決済みのルートディレクトリ
	IgnorePatterns []string // gitignore 形式のパターン
	UseGitignore   bool     // ルートの .gitignore も適用するか
	MaxFiles       int      // 0 の場合は上限なし
}

// CacheConfig はキャッシュの設定
type CacheConfig struct {
	Dir           string
	Backend       string // "file" or "sqlite"
	KeyScheme     string // "basename" or "hashed"
	MemoryEntries int    // LRU の件数（0 で無効）
	AggregateFile string
	FailureLog    bool
}

// OpenAIConfig はOpenAI API設定（Embeddings）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
}

// EmbeddingConfig はEmbedding呼び出しの並列度・タイムアウト設定
type EmbeddingConfig struct {
	Concurrency int
	Timeout     time.Duration
	MaxRetries  int
	RPM         int
}

// VectorStoreConfig はベクトルDBへの書き込み設定
type VectorStoreConfig struct {
	Backend           string // "pgvector" or "qdrant"
	CollectionName    string
	VectorSize        int
	BatchSize         int
	UpsertConcurrency int
	SkipUnembedded    bool
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// QdrantConfig はQdrant接続設定
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
// 数値・真偽値・期間の値が解析できない場合はまとめて ErrInvalidConfig を返します
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	p := &parser{}

	cfg := &Config{
		Scan: ScanConfig{
			Root:           getEnv("CODEBASE_PATH", "."),
			IgnorePatterns: splitList(getEnv("IGNORE_PATTERNS", ".git,node_modules,.codeindex-cache")),
			UseGitignore:   p.boolean("USE_GITIGNORE", false),
			MaxFiles:       p.integer("MAX_FILES", 0),
		},
		TokenLimit:        p.integer("TOKEN_LIMIT", 8191),
		TokenizerEncoding: getEnv("TOKENIZER_ENCODING", "cl100k_base"),
		Cache: CacheConfig{
			Dir:           getEnv("CACHE_DIR", ".codeindex-cache"),
			Backend:       getEnv("CACHE_BACKEND", "file"),
			KeyScheme:     getEnv("CACHE_KEY_SCHEME", "basename"),
			MemoryEntries: p.integer("CACHE_MEMORY_ENTRIES", 1024),
			AggregateFile: getEnv("AGGREGATE_FILE", "records.json"),
			FailureLog:    p.boolean("FAILURE_LOG", true),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Embedding: EmbeddingConfig{
			Concurrency: p.integer("EMBEDDING_CONCURRENCY", 8),
			Timeout:     p.duration("EMBEDDING_TIMEOUT", 60*time.Second),
			MaxRetries:  p.integer("EMBEDDING_MAX_RETRIES", 3),
			RPM:         p.integer("EMBEDDING_RPM", 0),
		},
		VectorStore: VectorStoreConfig{
			Backend:           getEnv("VECTOR_STORE", "pgvector"),
			CollectionName:    getEnv("COLLECTION_NAME", "codebase"),
			VectorSize:        p.integer("VECTOR_SIZE", 0),
			BatchSize:         p.integer("BATCH_SIZE", 10),
			UpsertConcurrency: p.integer("UPSERT_CONCURRENCY", 1),
			SkipUnembedded:    p.boolean("SKIP_UNEMBEDDED", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     p.integer("DB_PORT", 5432),
			User:     getEnv("DB_USER", "codeindex"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "codeindex"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Qdrant: QdrantConfig{
			Host:   getEnv("QDRANT_HOST", "localhost"),
			Port:   p.integer("QDRANT_PORT", 6334),
			APIKey: getEnv("QDRANT_API_KEY", ""),
			UseTLS: p.boolean("QDRANT_USE_TLS", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// 次元数の指定がなければコレクションの次元に合わせる
	cfg.OpenAI.EmbeddingDimension = p.integer("OPENAI_EMBEDDING_DIMENSION", cfg.VectorStore.VectorSize)

	if err := p.err(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Scan.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: CODEBASE_PATH %q: %v", ErrInvalidConfig, cfg.Scan.Root, err)
	}
	cfg.Scan.Root = root

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は値の範囲と列挙値を検証します
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.TokenLimit <= 0 {
		fail("TOKEN_LIMIT must be positive, got %d", c.TokenLimit)
	}
	if c.Scan.MaxFiles < 0 {
		fail("MAX_FILES must not be negative, got %d", c.Scan.MaxFiles)
	}
	if c.VectorStore.VectorSize < 0 {
		fail("VECTOR_SIZE must not be negative, got %d", c.VectorStore.VectorSize)
	}
	if c.VectorStore.BatchSize <= 0 {
		fail("BATCH_SIZE must be positive, got %d", c.VectorStore.BatchSize)
	}
	if c.VectorStore.UpsertConcurrency <= 0 {
		fail("UPSERT_CONCURRENCY must be positive, got %d", c.VectorStore.UpsertConcurrency)
	}
	if c.VectorStore.CollectionName == "" {
		fail("COLLECTION_NAME must not be empty")
	}
	if c.Embedding.Concurrency <= 0 {
		fail("EMBEDDING_CONCURRENCY must be positive, got %d", c.Embedding.Concurrency)
	}
	if c.Embedding.Timeout <= 0 {
		fail("EMBEDDING_TIMEOUT must be positive, got %s", c.Embedding.Timeout)
	}
	if c.Embedding.MaxRetries < 0 || c.Embedding.RPM < 0 || c.Cache.MemoryEntries < 0 {
		fail("EMBEDDING_MAX_RETRIES, EMBEDDING_RPM and CACHE_MEMORY_ENTRIES must not be negative")
	}

	switch c.VectorStore.Backend {
	case "pgvector", "qdrant":
	default:
		fail("VECTOR_STORE must be pgvector or qdrant, got %q", c.VectorStore.Backend)
	}
	switch c.Cache.Backend {
	case "file", "sqlite":
	default:
		fail("CACHE_BACKEND must be file or sqlite, got %q", c.Cache.Backend)
	}
	switch c.Cache.KeyScheme {
	case "basename", "hashed":
	default:
		fail("CACHE_KEY_SCHEME must be basename or hashed, got %q", c.Cache.KeyScheme)
	}

	return errors.Join(errs...)
}

// AggregatePath は集約ファイルのパスを返します
func (c *Config) AggregatePath() string {
	return filepath.Join(c.Cache.Dir, c.Cache.AggregateFile)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser は型付きの環境変数読み込みで発生したエラーを蓄積します
type parser struct {
	errs []error
}

func (p *parser) integer(key string, defaultValue int) int {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, valueStr))
		return defaultValue
	}
	return value
}

func (p *parser) boolean(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, key, valueStr))
		return defaultValue
	}
	return value
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, key, valueStr))
		return defaultValue
	}
	return value
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

// splitList はカンマ区切りの値を分割し、空要素を除外します
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
