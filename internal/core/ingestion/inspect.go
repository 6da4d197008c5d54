package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// InspectEntry は scan コマンドで表示する1ファイル分の情報
type InspectEntry struct {
	Path       string
	BaseName   string
	TokenCount int
	Admitted   bool
	Err        error
}

// Inspector はキャッシュに書き込まずにスキャン結果とトークン数を確認する
type Inspector struct {
	scanner *PathScanner
	counter TokenCounter
	filter  *TokenFilter
}

// NewInspector は新しい Inspector を作成する
func NewInspector(scanner *PathScanner, counter TokenCounter, filter *TokenFilter) *Inspector {
	return &Inspector{scanner: scanner, counter: counter, filter: filter}
}

// Inspect は root を走査し、各ファイルのトークン数と予算判定を返す
// maxFiles が 0 より大きい場合は先頭 maxFiles 件に絞る
func (i *Inspector) Inspect(ctx context.Context, root string, maxFiles int) ([]InspectEntry, *ScanResult, error) {
	scan, err := i.scanner.Scan(ctx, root)
	if err != nil {
		return nil, nil, err
	}

	paths := capPaths(scan.Paths, maxFiles)
	entries := make([]InspectEntry, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		entry := InspectEntry{Path: path, BaseName: filepath.Base(path)}
		content, err := os.ReadFile(path)
		if err != nil {
			entry.Err = errors.Join(ErrScan, err)
			entries = append(entries, entry)
			continue
		}

		tokens, err := i.counter.CountTokens(string(content))
		if err != nil {
			entry.Err = errors.Join(ErrTokenization, err)
			entries = append(entries, entry)
			continue
		}

		entry.TokenCount = tokens
		entry.Admitted = i.filter.Admit(tokens)
		entries = append(entries, entry)
	}

	return entries, scan, nil
}

// capPaths は先頭 n 件に切り詰める（n <= 0 なら全件）
func capPaths(paths []string, n int) []string {
	if n > 0 && len(paths) > n {
		return paths[:n]
	}
	return paths
}
