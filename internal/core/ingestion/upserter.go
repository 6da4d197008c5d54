package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize は upsert 1回あたりのデフォルトポイント数
	DefaultBatchSize = 10
	// DefaultUpsertConcurrency はバッチ upsert のデフォルト並列数
	DefaultUpsertConcurrency = 1
)

// UpserterConfig は BatchUpserter の設定
type UpserterConfig struct {
	Collection     string
	VectorSize     int
	Distance       Distance
	BatchSize      int
	Concurrency    int
	SkipUnembedded bool           // true の場合ベクトルのないレコードを送らない
	Repository     RepositoryInfo // ペイロードに付与するリポジトリ情報
}

// BatchUpserter はレコードを固定サイズのバッチに分割してベクトルDBへ書き込む
type BatchUpserter struct {
	store  VectorStore
	config UpserterConfig
	logger *slog.Logger
}

// NewBatchUpserter は新しい BatchUpserter を作成する
func NewBatchUpserter(store VectorStore, config UpserterConfig, logger *slog.Logger) *BatchUpserter {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultUpsertConcurrency
	}
	if config.Distance == "" {
		config.Distance = DistanceCosine
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchUpserter{store: store, config: config, logger: logger}
}

// EnsureCollection は対象コレクションが存在しなければ作成する
// 既存コレクションとの次元・距離の整合性は検証しない
func (u *BatchUpserter) EnsureCollection(ctx context.Context) (bool, error) {
	collections, err := u.store.ListCollections(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}

	for _, c := range collections {
		if c.Name == u.config.Collection {
			return false, nil
		}
	}

	if u.config.VectorSize <= 0 {
		return false, fmt.Errorf("%w: collection %q", ErrMissingVectorSize, u.config.Collection)
	}

	params := CollectionParams{Size: u.config.VectorSize, Distance: u.config.Distance}
	if err := u.store.CreateCollection(ctx, u.config.Collection, params); err != nil {
		return false, fmt.Errorf("failed to create collection %q: %w", u.config.Collection, err)
	}

	u.logger.Info("コレクションを作成しました",
		"collection", u.config.Collection,
		"size", params.Size,
		"distance", params.Distance,
	)
	return true, nil
}

// UpsertAll はレコードをバッチに分割して全件書き込む
// 各 upsert の完了を待ち、拒否されたバッチは記録して残りを継続する
func (u *BatchUpserter) UpsertAll(ctx context.Context, records []*FileRecord) *UpsertReport {
	report := &UpsertReport{}

	eligible := records
	if u.config.SkipUnembedded {
		eligible = make([]*FileRecord, 0, len(records))
		for _, r := range records {
			if r.HasVector() {
				eligible = append(eligible, r)
			}
		}
		report.SkippedIDs = len(records) - len(eligible)
	}

	batches := Partition(eligible, u.config.BatchSize, u.config.Repository)
	report.Batches = len(batches)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(u.config.Concurrency)

	for i, batch := range batches {
		g.Go(func() error {
			err := u.store.Upsert(ctx, u.config.Collection, batch)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				u.logger.Error("バッチの upsert に失敗",
					"batch", i,
					"firstID", batch.IDs[0],
					"lastID", batch.IDs[len(batch.IDs)-1],
					"error", err,
				)
				report.Failures = append(report.Failures, BatchFailure{
					BatchIndex: i,
					IDs:        batch.IDs,
					Err:        fmt.Errorf("%w: batch %d: %v", ErrUpsert, i, err),
				})
				return nil
			}

			report.UpsertedIDs += batch.Len()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failures, func(a, b int) bool {
		return report.Failures[a].BatchIndex < report.Failures[b].BatchIndex
	})

	return report
}

// Partition はレコードを連続したバッチに分割し、ID を採番する
// ID は batchIndex*batchSize + offset + 1 で、実行全体で一意になる
// ベクトルのないレコードは空のベクトルとして並列配列に入る
func Partition(records []*FileRecord, batchSize int, repo RepositoryInfo) []PointBatch {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var batches []PointBatch
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		batchIndex := start / batchSize

		batch := PointBatch{
			IDs:      make([]uint64, 0, end-start),
			Payloads: make([]Payload, 0, end-start),
			Vectors:  make([][]float32, 0, end-start),
		}
		for offset, r := range records[start:end] {
			vector := r.Vector
			if vector == nil {
				vector = []float32{}
			}
			batch.IDs = append(batch.IDs, uint64(batchIndex*batchSize+offset+1))
			batch.Payloads = append(batch.Payloads, Payload{
				Path:       r.Path,
				SourceText: r.SourceText,
				BaseName:   r.BaseName,
				TokenCount: r.TokenCount,
				Language:   r.Language,
				Repository: repo.Remote,
				Commit:     repo.Commit,
			})
			batch.Vectors = append(batch.Vectors, vector)
		}
		batches = append(batches, batch)
	}
	return batches
}
