package ingestion

import (
	"time"

	"github.com/google/uuid"
)

// FileRecord はインデックス対象として受け入れられた1ファイルを表す
// キャッシュには Vector を除いた形で保存される
type FileRecord struct {
	Path       string    `json:"path"`
	BaseName   string    `json:"base_name"`
	SourceText string    `json:"source_text"`
	TokenCount int       `json:"token_count"`
	Language   string    `json:"language,omitempty"`
	Vector     []float32 `json:"vector,omitempty"`
}

// HasVector は Embedding が付与済みかどうかを返す
func (r *FileRecord) HasVector() bool {
	return len(r.Vector) > 0
}

// Payload はベクトルDBに保存するポイントのメタデータ
type Payload struct {
	Path       string `json:"path"`
	SourceText string `json:"source_text"`
	BaseName   string `json:"base_name"`
	TokenCount int    `json:"token_count"`
	Language   string `json:"language,omitempty"`
	Repository string `json:"repository,omitempty"`
	Commit     string `json:"commit,omitempty"`
}

// Map は Payload を汎用マップに変換する（ペイロードを map で受け取るストア向け）
func (p Payload) Map() map[string]any {
	m := map[string]any{
		"path":        p.Path,
		"source_text": p.SourceText,
		"base_name":   p.BaseName,
		"token_count": int64(p.TokenCount),
	}
	if p.Language != "" {
		m["language"] = p.Language
	}
	if p.Repository != "" {
		m["repository"] = p.Repository
	}
	if p.Commit != "" {
		m["commit"] = p.Commit
	}
	return m
}

// PointBatch は1回の upsert 呼び出しで送る並列配列
// IDs[i], Payloads[i], Vectors[i] が1ポイントに対応する
type PointBatch struct {
	IDs      []uint64
	Payloads []Payload
	Vectors  [][]float32
}

// Len はバッチ内のポイント数を返す
func (b PointBatch) Len() int {
	return len(b.IDs)
}

// Distance はコレクションの距離関数
type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceEuclid Distance = "Euclid"
	DistanceDot    Distance = "Dot"
)

// CollectionInfo はベクトルDB上のコレクション情報
type CollectionInfo struct {
	Name string
}

// CollectionParams はコレクション作成時のパラメータ
type CollectionParams struct {
	Size     int
	Distance Distance
}

// RepositoryInfo はスキャン対象が属する Git リポジトリの情報
type RepositoryInfo struct {
	Remote string // host/owner/repo 形式に正規化したリモート
	Commit string // HEAD のコミットハッシュ
}

// LoadOutcome は FileCache.GetOrLoad の結果種別
type LoadOutcome string

const (
	LoadCacheHit      LoadOutcome = "cache_hit"
	LoadAdmitted      LoadOutcome = "admitted"
	LoadOverBudget    LoadOutcome = "over_budget"
	LoadReadFailed    LoadOutcome = "read_failed"
	LoadTokenizeError LoadOutcome = "tokenize_failed"
)

// VectorOutcome は VectorCache.EnsureVector の結果種別
type VectorOutcome string

const (
	VectorCacheHit VectorOutcome = "cache_hit"
	VectorEmbedded VectorOutcome = "embedded"
	VectorFailed   VectorOutcome = "failed"
)

// BatchFailure は拒否されたバッチの記録
type BatchFailure struct {
	BatchIndex int
	IDs        []uint64
	Err        error
}

// UpsertReport は UpsertAll の結果
type UpsertReport struct {
	Batches     int
	UpsertedIDs int
	SkippedIDs  int // ベクトルなしで除外した件数（SkipUnembedded 時）
	Failures    []BatchFailure
}

// FailedIDs は失敗した全バッチの ID を返す
func (r *UpsertReport) FailedIDs() []uint64 {
	var ids []uint64
	for _, f := range r.Failures {
		ids = append(ids, f.IDs...)
	}
	return ids
}

// RunStats はパイプライン1回分の統計情報
type RunStats struct {
	RunID uuid.UUID

	ScannedFiles int // スキャンで見つかったファイル数（上限適用前）
	ScanErrors   int
	CappedFiles  int // MaxFiles により除外したファイル数

	Admitted           int
	FileCacheHits      int
	OverBudget         int
	ReadFailures       int
	TokenizationErrors int

	VectorCacheHits   int
	Embedded          int
	EmbeddingFailures int

	CollectionCreated bool
	Upsert            UpsertReport

	Duration time.Duration
}
