package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

// IndexAction はパイプラインを1回実行し、結果を表で表示する
func IndexAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.Pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("インデックス処理に失敗: %w", err)
	}

	renderRunStats(os.Stdout, stats, appCtx.Config.VectorStore.CollectionName)

	if failed := len(stats.Upsert.Failures); failed > 0 {
		fmt.Fprintf(os.Stdout, "\n⚠ %d 個のバッチが拒否されました（ID: %v）。再実行で再送されます\n",
			failed, stats.Upsert.FailedIDs())
	}
	return nil
}

// renderRunStats は RunStats を表形式で出力する
func renderRunStats(w io.Writer, stats *ingestion.RunStats, collection string) {
	table := tablewriter.NewWriter(w)
	table.Header("項目", "値")

	table.Append("実行ID", stats.RunID.String())
	table.Append("コレクション", collection)
	table.Append("コレクション作成", fmt.Sprintf("%t", stats.CollectionCreated))
	table.Append("スキャンしたファイル", fmt.Sprintf("%d", stats.ScannedFiles))
	table.Append("スキャンエラー", fmt.Sprintf("%d", stats.ScanErrors))
	table.Append("上限で除外", fmt.Sprintf("%d", stats.CappedFiles))
	table.Append("対象ファイル", fmt.Sprintf("%d", stats.Admitted))
	table.Append("ファイルキャッシュヒット", fmt.Sprintf("%d", stats.FileCacheHits))
	table.Append("トークン予算超過", fmt.Sprintf("%d", stats.OverBudget))
	table.Append("読み込み失敗", fmt.Sprintf("%d", stats.ReadFailures))
	table.Append("トークン化失敗", fmt.Sprintf("%d", stats.TokenizationErrors))
	table.Append("ベクトルキャッシュヒット", fmt.Sprintf("%d", stats.VectorCacheHits))
	table.Append("Embedding 実行", fmt.Sprintf("%d", stats.Embedded))
	table.Append("Embedding 失敗", fmt.Sprintf("%d", stats.EmbeddingFailures))
	table.Append("バッチ数", fmt.Sprintf("%d", stats.Upsert.Batches))
	table.Append("登録したポイント", fmt.Sprintf("%d", stats.Upsert.UpsertedIDs))
	table.Append("ベクトルなしで除外", fmt.Sprintf("%d", stats.Upsert.SkippedIDs))
	table.Append("失敗したバッチ", fmt.Sprintf("%d", len(stats.Upsert.Failures)))
	table.Append("処理時間", stats.Duration.Round(time.Millisecond).String())

	table.Render()
}
