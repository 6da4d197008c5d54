package ignore

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

// DefaultPatterns はパターン未指定時の除外パターン
var DefaultPatterns = []string{".git", "node_modules", ".codeindex-cache"}

// Matcher は gitignore 形式のパターンでパスを除外判定する
type Matcher struct {
	patterns []string
	compiled *gitignore.GitIgnore
}

// NewMatcher はパターンから Matcher を作成する
// useGitignore が true の場合は root 直下の .gitignore も読み込む
// extra は patterns の指定有無にかかわらず常に追加される
func NewMatcher(root string, patterns []string, useGitignore bool, extra ...string) (*Matcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	all := append([]string(nil), patterns...)
	all = append(all, extra...)

	if useGitignore {
		gitignorePath := filepath.Join(root, ".gitignore")
		if _, err := os.Stat(gitignorePath); err == nil {
			lines, err := readIgnoreFile(gitignorePath)
			if err != nil {
				return nil, fmt.Errorf("failed to read .gitignore: %w", err)
			}
			all = append(all, lines...)
		}
	}

	return &Matcher{
		patterns: all,
		compiled: gitignore.CompileIgnoreLines(all...),
	}, nil
}

// ShouldIgnore はルートからの相対パスが除外対象かどうかを判定する
// ディレクトリは末尾に / を付けて照合し、"dist/" のようなパターンにも一致させる
func (m *Matcher) ShouldIgnore(relPath string, isDir bool) bool {
	if isDir && !strings.HasSuffix(relPath, "/") {
		relPath += "/"
	}
	return m.compiled.MatchesPath(relPath)
}

// Patterns は適用中のパターンを返す
func (m *Matcher) Patterns() []string {
	return m.patterns
}

// readIgnoreFile は ignore ファイルを読み込み、空行とコメント行を除いたパターンを返す
func readIgnoreFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var patterns []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

var _ ingestion.IgnoreMatcher = (*Matcher)(nil)
