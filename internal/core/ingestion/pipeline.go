package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultEmbeddingConcurrency は Embedding ワーカーのデフォルト並列数
const DefaultEmbeddingConcurrency = 8

// PipelineConfig は IndexPipeline の実行設定
type PipelineConfig struct {
	Root                 string
	MaxFiles             int    // 0 の場合は上限なし
	EmbeddingConcurrency int    // Embedding ワーカー数
	AggregatePath        string // 空の場合は集約ファイルを書かない
}

// IndexPipeline はスキャンからベクトルDBへの書き込みまでを1回分実行する
type IndexPipeline struct {
	scanner  *PathScanner
	files    *FileCache
	vectors  *VectorCache
	upserter *BatchUpserter
	failures *FailureLog
	config   PipelineConfig
	logger   *slog.Logger
}

// NewIndexPipeline は新しい IndexPipeline を作成する
// failures は nil でもよい（失敗ログを書かない）
func NewIndexPipeline(
	scanner *PathScanner,
	files *FileCache,
	vectors *VectorCache,
	upserter *BatchUpserter,
	failures *FailureLog,
	config PipelineConfig,
	logger *slog.Logger,
) *IndexPipeline {
	if config.EmbeddingConcurrency <= 0 {
		config.EmbeddingConcurrency = DefaultEmbeddingConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexPipeline{
		scanner:  scanner,
		files:    files,
		vectors:  vectors,
		upserter: upserter,
		failures: failures,
		config:   config,
		logger:   logger,
	}
}

// Run はパイプラインを実行する
// ファイル単位・バッチ単位の失敗は記録して継続し、コレクションの準備失敗とスキャンルートの
// 不備のみを致命的エラーとして返す
func (p *IndexPipeline) Run(ctx context.Context) (*RunStats, error) {
	start := time.Now()
	stats := &RunStats{RunID: uuid.New()}
	logger := p.logger.With("runID", stats.RunID.String())

	logger.Info("インデックス処理を開始", "root", p.config.Root)

	// 1. コレクションの準備（スキャン前に次元数の不備を検出する）
	created, err := p.upserter.EnsureCollection(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare collection: %w", err)
	}
	stats.CollectionCreated = created

	// 2. スキャン
	scan, err := p.scanner.Scan(ctx, p.config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", p.config.Root, err)
	}
	stats.ScannedFiles = len(scan.Paths)
	stats.ScanErrors = len(scan.Errors)
	for _, scanErr := range scan.Errors {
		p.recordFailure(stats, FailureRecord{Kind: FailureScan, ErrorMessage: scanErr.Error()})
	}

	paths := capPaths(scan.Paths, p.config.MaxFiles)
	stats.CappedFiles = len(scan.Paths) - len(paths)
	logger.Info("スキャン完了",
		"files", stats.ScannedFiles,
		"scanErrors", stats.ScanErrors,
		"processing", len(paths),
	)

	// 3. 読み込みとトークン予算による選別（逐次）
	records, err := p.loadRecords(ctx, paths, stats)
	if err != nil {
		return nil, err
	}
	logger.Info("トークン予算による選別完了",
		"admitted", stats.Admitted,
		"cacheHits", stats.FileCacheHits,
		"overBudget", stats.OverBudget,
	)

	// 4. Embedding（並列）
	if err := p.embedRecords(ctx, records, stats); err != nil {
		return nil, err
	}
	logger.Info("Embedding 完了",
		"embedded", stats.Embedded,
		"cacheHits", stats.VectorCacheHits,
		"failures", stats.EmbeddingFailures,
	)

	// 5. バッチ upsert
	report := p.upserter.UpsertAll(ctx, records)
	stats.Upsert = *report
	for _, f := range report.Failures {
		batchIndex := f.BatchIndex
		p.recordFailure(stats, FailureRecord{
			Kind:         FailureUpsert,
			BatchIndex:   &batchIndex,
			IDs:          f.IDs,
			ErrorMessage: f.Err.Error(),
		})
	}

	// 6. 集約ファイル
	if p.config.AggregatePath != "" {
		if err := WriteAggregate(p.config.AggregatePath, records); err != nil {
			logger.Warn("集約ファイルの書き込みに失敗", "path", p.config.AggregatePath, "error", err)
		}
	}

	stats.Duration = time.Since(start)
	logger.Info("インデックス処理が完了",
		"upserted", report.UpsertedIDs,
		"failedBatches", len(report.Failures),
		"duration", stats.Duration,
	)

	return stats, nil
}

func (p *IndexPipeline) loadRecords(ctx context.Context, paths []string, stats *RunStats) ([]*FileRecord, error) {
	records := make([]*FileRecord, 0, len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, outcome, err := p.files.GetOrLoad(ctx, path)
		switch outcome {
		case LoadCacheHit:
			stats.FileCacheHits++
			stats.Admitted++
			records = append(records, record)
		case LoadAdmitted:
			stats.Admitted++
			records = append(records, record)
		case LoadOverBudget:
			stats.OverBudget++
		case LoadReadFailed:
			stats.ReadFailures++
			p.logger.Warn("ファイルの読み込みに失敗したためスキップ", "path", path, "error", err)
			p.recordFailure(stats, FailureRecord{Kind: FailureRead, Path: path, ErrorMessage: errString(err)})
		case LoadTokenizeError:
			stats.TokenizationErrors++
			p.logger.Warn("トークン数の算出に失敗したためスキップ", "path", path, "error", err)
			p.recordFailure(stats, FailureRecord{Kind: FailureTokenization, Path: path, ErrorMessage: errString(err)})
		}
	}

	return records, nil
}

// embedRecords はレコードごとに独立して Embedding を付与する
// records の順序は変えない
func (p *IndexPipeline) embedRecords(ctx context.Context, records []*FileRecord, stats *RunStats) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.EmbeddingConcurrency)

	for _, record := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			outcome, err := p.vectors.EnsureVector(gctx, record)

			mu.Lock()
			defer mu.Unlock()

			switch outcome {
			case VectorCacheHit:
				stats.VectorCacheHits++
			case VectorEmbedded:
				stats.Embedded++
			case VectorFailed:
				stats.EmbeddingFailures++
				p.logger.Warn("Embedding に失敗、ベクトルなしで続行", "path", record.Path, "error", err)
				p.recordFailure(stats, FailureRecord{Kind: FailureEmbedding, Path: record.Path, ErrorMessage: errString(err)})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	// 全件処理後にキャンセルされた場合も upsert に進まない
	return ctx.Err()
}

func (p *IndexPipeline) recordFailure(stats *RunStats, record FailureRecord) {
	record.RunID = stats.RunID.String()
	if err := p.failures.Record(record); err != nil {
		p.logger.Warn("失敗ログの書き込みに失敗", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
