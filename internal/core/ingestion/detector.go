package ingestion

import (
	"path/filepath"

	"github.com/go-enry/go-enry/v2"
)

// EnryDetector は go-enry でファイルの言語（linguist 名）を判定する。
type EnryDetector struct{}

// NewEnryDetector は EnryDetector を生成する。
func NewEnryDetector() *EnryDetector {
	return &EnryDetector{}
}

// DetectLanguage はファイル名と内容から言語名を返す。判定できない場合は空文字。
// ベンダー・生成ファイルも判定対象に含める（除外はスキャナーの責務）
func (d *EnryDetector) DetectLanguage(path string, content []byte) string {
	return enry.GetLanguage(filepath.Base(path), content)
}
