package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/codeindex/internal/core/ingestion"
	"github.com/jinford/codeindex/internal/platform/container"
)

// ScanAction は対象ファイルとトークン数を一覧表示する
func ScanAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd, container.WithScanOnly())
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config
	entries, scan, err := appCtx.Container.Inspector.Inspect(ctx, cfg.Scan.Root, cfg.Scan.MaxFiles)
	if err != nil {
		return fmt.Errorf("スキャンに失敗: %w", err)
	}

	for _, scanErr := range scan.Errors {
		appCtx.Logger().Warn("スキップしたエントリ", "error", scanErr)
	}

	renderInspectEntries(os.Stdout, cfg.Scan.Root, entries, cfg.TokenLimit)
	return nil
}

// renderInspectEntries はスキャン結果を表形式で出力する
func renderInspectEntries(w io.Writer, root string, entries []ingestion.InspectEntry, budget int) {
	table := tablewriter.NewWriter(w)
	table.Header("パス", "トークン数", "判定")

	admitted := 0
	for _, e := range entries {
		rel, err := filepath.Rel(root, e.Path)
		if err != nil {
			rel = e.Path
		}

		status := "対象"
		tokens := fmt.Sprintf("%d", e.TokenCount)
		switch {
		case e.Err != nil:
			status = "エラー: " + e.Err.Error()
			tokens = "-"
		case !e.Admitted:
			status = "予算超過"
		default:
			admitted++
		}
		table.Append(filepath.ToSlash(rel), tokens, status)
	}

	table.Render()
	fmt.Fprintf(w, "\n%d 件中 %d 件が対象（トークン予算: %d）\n", len(entries), admitted, budget)
}
