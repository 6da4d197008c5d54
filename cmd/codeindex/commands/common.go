package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/codeindex/internal/platform/config"
	"github.com/jinford/codeindex/internal/platform/container"
	"github.com/jinford/codeindex/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.Container
}

// NewAppContext は設定ファイルを読み込み、コンテナを構築して AppContext を作成する
func NewAppContext(ctx context.Context, cmd *cli.Command, opts ...container.ContainerOption) (*AppContext, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	// 標準出力は表や JSON の出力に使うため、ログは標準エラーに出す
	logCfg := logger.ConfigFrom(cfg.Log.Level, cfg.Log.Format)
	logCfg.Output = os.Stderr
	appLogger := logger.New(logCfg)

	opts = append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, opts...)
	cont, err := container.New(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		if err := ac.Container.Close(); err != nil {
			ac.Logger().Warn("リソースの解放に失敗", "error", err)
		}
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger
	}
	return slog.Default()
}

// loadConfig は --env の設定を読み込み、フラグによる上書きを反映する
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	if cmd.IsSet("max-files") {
		maxFiles := int(cmd.Int("max-files"))
		if maxFiles < 0 {
			return nil, fmt.Errorf("%w: --max-files must not be negative, got %d", config.ErrInvalidConfig, maxFiles)
		}
		cfg.Scan.MaxFiles = maxFiles
	}

	return cfg, nil
}
