package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspector_Inspect(t *testing.T) {
	// Setup
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt": words(5),
		"b.txt": words(500),
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.bin"), []byte{0xff}, 0o644))
	filter, err := NewTokenFilter(100)
	require.NoError(t, err)
	inspector := NewInspector(NewPathScanner(nil, testLogger()), &WordCounter{}, filter)

	// Execute
	entries, scan, err := inspector.Inspect(context.Background(), root, 0)

	// Assert
	require.NoError(t, err)
	assert.Len(t, scan.Paths, 3)
	require.Len(t, entries, 3)

	assert.Equal(t, "a.txt", entries[0].BaseName)
	assert.Equal(t, 5, entries[0].TokenCount)
	assert.True(t, entries[0].Admitted)

	assert.Equal(t, 500, entries[1].TokenCount)
	assert.False(t, entries[1].Admitted)

	assert.ErrorIs(t, entries[2].Err, ErrTokenization)
	assert.False(t, entries[2].Admitted)
}

func TestInspector_MaxFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c"})
	filter, err := NewTokenFilter(100)
	require.NoError(t, err)

	entries, _, err := NewInspector(NewPathScanner(nil, testLogger()), &WordCounter{}, filter).Inspect(context.Background(), root, 2)

	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
