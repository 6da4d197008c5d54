package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultEmbeddingTimeout は Embedding 呼び出し1回あたりのデフォルトタイムアウト
const DefaultEmbeddingTimeout = 60 * time.Second

// VectorCache はファイルごとの Embedding ベクトルをキャッシュし、
// ミス時のみ Embedding サービスを呼び出す
type VectorCache struct {
	store    Store
	keys     KeyScheme
	embedder Embedder
	timeout  time.Duration
	logger   *slog.Logger
}

// NewVectorCache は新しい VectorCache を作成する
func NewVectorCache(store Store, keys KeyScheme, embedder Embedder, timeout time.Duration, logger *slog.Logger) *VectorCache {
	if timeout <= 0 {
		timeout = DefaultEmbeddingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorCache{
		store:    store,
		keys:     keys,
		embedder: embedder,
		timeout:  timeout,
		logger:   logger,
	}
}

// EnsureVector はレコードにベクトルを付与する
// 失敗時（タイムアウト含む）は ErrEmbeddingService を返し、record.Vector は未設定のまま
func (c *VectorCache) EnsureVector(ctx context.Context, record *FileRecord) (VectorOutcome, error) {
	key := c.keys.VectorKey(record.Path)

	if vector, ok := c.lookup(ctx, key); ok {
		record.Vector = vector
		return VectorCacheHit, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vector, err := c.embedder.Embed(callCtx, record.SourceText)
	if err == nil && len(vector) == 0 {
		err = errors.New("empty embedding returned")
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		return VectorFailed, fmt.Errorf("%w: %s: %v", ErrEmbeddingService, record.Path, err)
	}

	record.Vector = vector

	data, err := json.Marshal(vector)
	if err != nil {
		c.logger.Warn("ベクトルのシリアライズに失敗", "path", record.Path, "error", err)
		return VectorEmbedded, nil
	}
	if err := c.store.Put(ctx, key, data); err != nil {
		c.logger.Warn("ベクトルのキャッシュ保存に失敗", "path", record.Path, "error", err)
	}

	return VectorEmbedded, nil
}

func (c *VectorCache) lookup(ctx context.Context, key string) ([]float32, bool) {
	exists, err := c.store.Has(ctx, key)
	if err != nil {
		c.logger.Warn("ベクトルキャッシュの存在確認に失敗、ミスとして扱います", "key", key, "error", err)
		return nil, false
	}
	if !exists {
		return nil, false
	}

	value, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("ベクトルキャッシュの読み込みに失敗、ミスとして扱います", "key", key, "error", err)
		return nil, false
	}
	data, ok := value.Get()
	if !ok {
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil || len(vector) == 0 {
		c.logger.Warn("ベクトルキャッシュが壊れているため再計算します", "key", key, "error", err)
		return nil, false
	}
	return vector, true
}
