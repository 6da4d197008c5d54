package ingestion

import (
	"context"

	"github.com/samber/mo"
)

// 以下のインターフェースはテスト時のモック用に消費者側で定義する

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) (int, error)
	// Encoding はキャッシュキーのバージョンに使うエンコーディング名を返す
	Encoding() string
}

// Embedder はテキストをベクトル表現に変換する
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// VectorStore はベクトルDBのコレクション操作を提供する
type VectorStore interface {
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	CreateCollection(ctx context.Context, name string, params CollectionParams) error
	Upsert(ctx context.Context, collection string, batch PointBatch) error
}

// Store はキャッシュエントリを永続化するキーバリューストア
// Get はヒット時に Some、ミス時に None を返し、エラーとは区別する
type Store interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (mo.Option[[]byte], error)
	Put(ctx context.Context, key string, value []byte) error
}

// IgnoreMatcher はスキャンから除外するパスを判定する
// relPath はルートからの相対パス（スラッシュ区切り）
type IgnoreMatcher interface {
	ShouldIgnore(relPath string, isDir bool) bool
}

// LanguageDetector はファイルの言語を判定する
type LanguageDetector interface {
	DetectLanguage(path string, content []byte) string
}
