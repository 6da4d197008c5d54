package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/codeindex/cmd/codeindex/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
	maxFilesFlag := &cli.IntFlag{
		Name:  "max-files",
		Usage: "処理するファイル数の上限（MAX_FILES を上書き、0 で上限なし）",
	}

	app := &cli.Command{
		Name:  "codeindex",
		Usage: "コードベースを Embedding 化してベクトルDBに登録するツール",
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "スキャン・Embedding・ベクトルDBへの登録を実行",
				Flags:  []cli.Flag{envFlag, maxFilesFlag},
				Action: commands.IndexAction,
			},
			{
				Name:   "scan",
				Usage:  "対象ファイルとトークン数を一覧表示（キャッシュには書き込まない）",
				Flags:  []cli.Flag{envFlag, maxFilesFlag},
				Action: commands.ScanAction,
			},
			{
				Name:  "export",
				Usage: "集約ファイルから可視化用の data.json を出力",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:  "in",
						Usage: "集約ファイルのパス（省略時は CACHE_DIR/AGGREGATE_FILE）",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "出力ファイルパス",
						Value: "data.json",
					},
				},
				Action: commands.ExportAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
