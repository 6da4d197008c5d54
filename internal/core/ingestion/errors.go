package ingestion

import "errors"

var (
	// ErrScan はパスやディレクトリを読み取れなかった場合のエラー（該当エントリのみスキップ）
	ErrScan = errors.New("scan failed")

	// ErrTokenization はトークン数の算出に失敗した場合のエラー（該当ファイルのみスキップ）
	ErrTokenization = errors.New("tokenization failed")

	// ErrEmbeddingService はEmbeddingサービス呼び出しの失敗（ベクトルなしで続行）
	ErrEmbeddingService = errors.New("embedding service failed")

	// ErrUpsert はベクトルDBがバッチを拒否した場合のエラー（残りのバッチは継続）
	ErrUpsert = errors.New("upsert rejected")

	// ErrMissingVectorSize はコレクション作成時に次元数が未設定の場合のエラー
	ErrMissingVectorSize = errors.New("vector size is required to create the collection")
)
