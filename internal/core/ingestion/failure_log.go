package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FailureKind は失敗の種類を表します
type FailureKind string

const (
	FailureScan         FailureKind = "scan"
	FailureRead         FailureKind = "read"
	FailureTokenization FailureKind = "tokenization"
	FailureEmbedding    FailureKind = "embedding"
	FailureUpsert       FailureKind = "upsert"
)

// FailureRecord はスキップしたファイル・バッチのログレコードです
type FailureRecord struct {
	Timestamp    time.Time   `json:"timestamp"`
	RunID        string      `json:"run_id"`
	Kind         FailureKind `json:"kind"`
	Path         string      `json:"path,omitempty"`
	BatchIndex   *int        `json:"batch_index,omitempty"`
	IDs          []uint64    `json:"ids,omitempty"`
	ErrorMessage string      `json:"error_message"`
}

// FailureLog は失敗を JSONL ファイルに追記します
// 再実行時にどのファイルが取りこぼされたかを確認するためのものです
type FailureLog struct {
	file    *os.File
	mu      sync.Mutex
	enabled bool
}

// NewFailureLog は新しい FailureLog を作成します
// logDir が空の場合は何も記録しません
func NewFailureLog(logDir string) (*FailureLog, error) {
	if logDir == "" {
		return &FailureLog{enabled: false}, nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// 日付でローテーション
	name := fmt.Sprintf("failures_%s.jsonl", time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open failure log: %w", err)
	}

	return &FailureLog{file: file, enabled: true}, nil
}

// Record は失敗を1行追記します
func (l *FailureLog) Record(record FailureRecord) error {
	if l == nil || !l.enabled {
		return nil
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal failure record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write failure log: %w", err)
	}
	return nil
}

// Path はログファイルのパスを返します（無効時は空文字）
func (l *FailureLog) Path() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close はログファイルを閉じます
func (l *FailureLog) Close() error {
	if l != nil && l.file != nil {
		return l.file.Close()
	}
	return nil
}
