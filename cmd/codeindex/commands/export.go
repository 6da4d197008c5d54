package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

// ExportAction は集約ファイルから可視化ページ用の data.json を出力する
// Embedding サービスやベクトルDBには接続しない
func ExportAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	in := cmd.String("in")
	if in == "" {
		in = cfg.AggregatePath()
	}

	exported, skipped, err := exportVisualization(in, cmd.String("out"))
	if err != nil {
		return err
	}

	fmt.Printf("✓ %d 件を %s にエクスポートしました（ベクトルなし・次元不足で %d 件を除外）\n",
		exported, cmd.String("out"), skipped)
	return nil
}

func exportVisualization(in, out string) (exported, skipped int, err error) {
	records, err := ingestion.ReadAggregate(in)
	if err != nil {
		return 0, 0, fmt.Errorf("集約ファイルの読み込みに失敗（先に index を実行してください）: %w", err)
	}

	points := ingestion.ExportVisualization(records)
	if err := ingestion.WriteVisualization(out, points); err != nil {
		return 0, 0, fmt.Errorf("ファイル書き込みに失敗: %w", err)
	}

	return len(points), len(records) - len(points), nil
}
