package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MinVisualizationDimensions は可視化（3次元 t-SNE）に必要な最小次元数
const MinVisualizationDimensions = 3

// VisualizationPoint は可視化ページが読む data.json の1要素
type VisualizationPoint struct {
	Vector   []float32 `json:"vector"`
	BaseName string    `json:"base_name"`
}

// WriteAggregate は実行で処理した全レコードを1つの JSON ファイルにまとめて保存する
// 同じ入力なら同じ内容になるよう、実行IDや時刻は含めない
func WriteAggregate(path string, records []*FileRecord) error {
	if records == nil {
		records = []*FileRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}
	return writeFileAtomic(path, data)
}

// ReadAggregate は WriteAggregate が書いたファイルを読み込む
func ReadAggregate(path string) ([]*FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate %s: %w", path, err)
	}
	var records []*FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse aggregate %s: %w", path, err)
	}
	return records, nil
}

// ExportVisualization は可視化用の点列を作る
// ベクトルがない、または次元が足りないレコードは除外する
func ExportVisualization(records []*FileRecord) []VisualizationPoint {
	points := make([]VisualizationPoint, 0, len(records))
	for _, r := range records {
		if len(r.Vector) < MinVisualizationDimensions {
			continue
		}
		points = append(points, VisualizationPoint{Vector: r.Vector, BaseName: r.BaseName})
	}
	return points
}

// WriteVisualization は点列を data.json 形式で書き出す
func WriteVisualization(path string, points []VisualizationPoint) error {
	data, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("failed to marshal visualization data: %w", err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic は一時ファイルに書いてから rename する
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}
