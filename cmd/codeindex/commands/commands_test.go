package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

func TestExportVisualization(t *testing.T) {
	// Setup
	dir := t.TempDir()
	in := filepath.Join(dir, "records.json")
	out := filepath.Join(dir, "web", "data.json")

	records := []*ingestion.FileRecord{
		{Path: "/repo/a.go", BaseName: "a.go", TokenCount: 3, Vector: []float32{0.1, 0.2, 0.3}},
		{Path: "/repo/b.go", BaseName: "b.go", TokenCount: 4},
		{Path: "/repo/c.go", BaseName: "c.go", TokenCount: 5, Vector: []float32{1, 2}},
	}
	require.NoError(t, ingestion.WriteAggregate(in, records))

	// Execute
	exported, skipped, err := exportVisualization(in, out)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, exported)
	assert.Equal(t, 2, skipped)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var points []ingestion.VisualizationPoint
	require.NoError(t, json.Unmarshal(data, &points))
	require.Len(t, points, 1)
	assert.Equal(t, "a.go", points[0].BaseName)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, points[0].Vector)
}

func TestExportVisualization_MissingAggregate(t *testing.T) {
	dir := t.TempDir()

	_, _, err := exportVisualization(filepath.Join(dir, "missing.json"), filepath.Join(dir, "data.json"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "index")
	_, statErr := os.Stat(filepath.Join(dir, "data.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRenderRunStats(t *testing.T) {
	// Setup
	stats := &ingestion.RunStats{
		RunID:             uuid.New(),
		ScannedFiles:      5,
		Admitted:          4,
		OverBudget:        1,
		Embedded:          3,
		EmbeddingFailures: 1,
		CollectionCreated: true,
		Upsert: ingestion.UpsertReport{
			Batches:     1,
			UpsertedIDs: 4,
		},
		Duration: 1500 * time.Millisecond,
	}

	// Execute
	var buf bytes.Buffer
	renderRunStats(&buf, stats, "codebase")

	// Assert
	output := buf.String()
	assert.Contains(t, output, stats.RunID.String())
	assert.Contains(t, output, "codebase")
	assert.Contains(t, output, "スキャンしたファイル")
	assert.Contains(t, output, "失敗したバッチ")
	assert.Contains(t, output, "1.5s")
}

func TestRenderInspectEntries(t *testing.T) {
	// Setup
	root := filepath.FromSlash("/repo")
	entries := []ingestion.InspectEntry{
		{Path: filepath.Join(root, "main.go"), BaseName: "main.go", TokenCount: 12, Admitted: true},
		{Path: filepath.Join(root, "docs", "big.md"), BaseName: "big.md", TokenCount: 9000},
		{Path: filepath.Join(root, "bad.bin"), BaseName: "bad.bin", Err: errors.New("invalid utf-8")},
	}

	// Execute
	var buf bytes.Buffer
	renderInspectEntries(&buf, root, entries, 8191)

	// Assert
	output := buf.String()
	assert.Contains(t, output, "main.go")
	assert.Contains(t, output, "docs/big.md")
	assert.Contains(t, output, "予算超過")
	assert.Contains(t, output, "invalid")
	assert.Contains(t, output, "3 件中 1 件が対象（トークン予算: 8191）")
}
