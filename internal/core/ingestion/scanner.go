package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ScanResult はディレクトリ走査の結果
type ScanResult struct {
	Paths  []string // 絶対パス（走査順）
	Errors []error  // 読み取れずにスキップしたエントリ（ErrScan をラップ）
}

// PathScanner はルート配下の通常ファイルを再帰的に列挙する
type PathScanner struct {
	matcher IgnoreMatcher
	logger  *slog.Logger
	walk    func(root string, fn fs.WalkDirFunc) error
}

// NewPathScanner は新しい PathScanner を作成する
// matcher が nil の場合は何も除外しない
func NewPathScanner(matcher IgnoreMatcher, logger *slog.Logger) *PathScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &PathScanner{matcher: matcher, logger: logger, walk: filepath.WalkDir}
}

// Scan は root 配下で除外パターンに一致しない通常ファイルをすべて返す
// 順序はディレクトリの辞書順（同じファイルシステム状態なら決定的）
// シンボリックリンクは辿らない
func (s *PathScanner) Scan(ctx context.Context, root string) (*ScanResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root %q: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", absRoot)
	}

	result := &ScanResult{}

	walkErr := s.walk(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			// 読めないエントリはスキップして走査を続ける
			result.Errors = append(result.Errors, fmt.Errorf("%w: %s: %v", ErrScan, path, err))
			s.logger.Warn("エントリを読み取れないためスキップ", "path", path, "error", err)
			if d != nil && d.IsDir() && path != absRoot {
				return filepath.SkipDir
			}
			return nil
		}

		if path == absRoot {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%w: %s: %v", ErrScan, path, err))
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.matcher != nil && s.matcher.ShouldIgnore(rel, true) {
				s.logger.Debug("ディレクトリを除外", "path", rel)
				return filepath.SkipDir
			}
			return nil
		}

		// 通常ファイル以外（シンボリックリンク、デバイス等）は対象外
		if !d.Type().IsRegular() {
			return nil
		}

		if s.matcher != nil && s.matcher.ShouldIgnore(rel, false) {
			s.logger.Debug("ファイルを除外", "path", rel)
			return nil
		}

		result.Paths = append(result.Paths, path)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return result, nil
}
