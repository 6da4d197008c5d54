package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileCache はファイルごとの FileRecord（ベクトルなし）をキャッシュする
// ミス時のみファイルを読み、トークン数を数えて予算内なら保存する
type FileCache struct {
	store    Store
	keys     KeyScheme
	counter  TokenCounter
	filter   *TokenFilter
	detector LanguageDetector
	logger   *slog.Logger
}

// NewFileCache は新しい FileCache を作成する
// detector は nil でもよい（language を空のまま保存する）
func NewFileCache(
	store Store,
	keys KeyScheme,
	counter TokenCounter,
	filter *TokenFilter,
	detector LanguageDetector,
	logger *slog.Logger,
) *FileCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileCache{
		store:    store,
		keys:     keys,
		counter:  counter,
		filter:   filter,
		detector: detector,
		logger:   logger,
	}
}

// GetOrLoad はキャッシュ済みのレコードを返すか、ファイルを読み込んで作成する
// 予算超過の場合は (nil, LoadOverBudget, nil) を返し、キャッシュには書き込まない
// 読み取り・トークン化の失敗はそのファイルだけの失敗としてエラーを返す
func (c *FileCache) GetOrLoad(ctx context.Context, path string) (*FileRecord, LoadOutcome, error) {
	key := c.keys.RecordKey(path)

	if record, ok := c.lookup(ctx, key, path); ok {
		// 予算が下げられている場合に備えて、保存済みのトークン数で再判定する
		if !c.filter.Admit(record.TokenCount) {
			c.logger.Debug("キャッシュ済みレコードが予算超過のため除外",
				"path", path,
				"tokens", record.TokenCount,
				"budget", c.filter.Budget(),
			)
			return nil, LoadOverBudget, nil
		}
		return record, LoadCacheHit, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, LoadReadFailed, fmt.Errorf("%w: failed to read %s: %v", ErrScan, path, err)
	}

	text := string(content)
	tokens, err := c.counter.CountTokens(text)
	if err != nil {
		return nil, LoadTokenizeError, fmt.Errorf("%w: %s: %v", ErrTokenization, path, err)
	}

	if !c.filter.Admit(tokens) {
		c.logger.Debug("トークン予算を超過したため除外",
			"path", path,
			"tokens", tokens,
			"budget", c.filter.Budget(),
		)
		return nil, LoadOverBudget, nil
	}

	record := &FileRecord{
		Path:       path,
		BaseName:   filepath.Base(path),
		SourceText: text,
		TokenCount: tokens,
	}
	if c.detector != nil {
		record.Language = c.detector.DetectLanguage(path, content)
	}

	c.persist(ctx, key, record)

	return record, LoadAdmitted, nil
}

// lookup は Has → Get の順でキャッシュを参照する
// ストアのエラーや壊れたエントリはミスとして扱い、再計算で上書きさせる
func (c *FileCache) lookup(ctx context.Context, key, path string) (*FileRecord, bool) {
	exists, err := c.store.Has(ctx, key)
	if err != nil {
		c.logger.Warn("キャッシュの存在確認に失敗、ミスとして扱います", "key", key, "error", err)
		return nil, false
	}
	if !exists {
		return nil, false
	}

	value, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("キャッシュの読み込みに失敗、ミスとして扱います", "key", key, "error", err)
		return nil, false
	}
	data, ok := value.Get()
	if !ok {
		return nil, false
	}

	var record FileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		c.logger.Warn("キャッシュエントリが壊れているため再作成します", "key", key, "path", path, "error", err)
		return nil, false
	}
	// ベクトルは VectorCache 側の管轄
	record.Vector = nil

	return &record, true
}

func (c *FileCache) persist(ctx context.Context, key string, record *FileRecord) {
	stored := *record
	stored.Vector = nil

	data, err := json.Marshal(&stored)
	if err != nil {
		c.logger.Warn("レコードのシリアライズに失敗", "path", record.Path, "error", err)
		return
	}
	if err := c.store.Put(ctx, key, data); err != nil {
		c.logger.Warn("レコードのキャッシュ保存に失敗", "path", record.Path, "error", err)
	}
}
