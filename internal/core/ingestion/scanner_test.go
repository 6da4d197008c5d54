package ingestion

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathScanner_Scan(t *testing.T) {
	// Setup
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":                   "package main",
		"src/app.ts":                "export {}",
		"src/lib/util.ts":           "export {}",
		"node_modules/pkg/index.js": "module.exports = {}",
		".git/config":               "[core]",
		"docs/readme.md":            "# docs",
	})
	scanner := NewPathScanner(segmentMatcher{names: []string{".git", "node_modules"}}, testLogger())

	// Execute
	result, err := scanner.Scan(context.Background(), root)

	// Assert
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{
		filepath.Join(root, "docs", "readme.md"),
		filepath.Join(root, "main.go"),
		filepath.Join(root, "src", "app.ts"),
		filepath.Join(root, "src", "lib", "util.ts"),
	}, result.Paths)
}

func TestPathScanner_ScanIsDeterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b.txt":   "b",
		"a.txt":   "a",
		"c/d.txt": "d",
	})
	scanner := NewPathScanner(nil, testLogger())

	first, err := scanner.Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := scanner.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, first.Paths, second.Paths)
	assert.Len(t, first.Paths, 3)
}

func TestPathScanner_NeverEmitsDirectoriesOrIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep/a.go":         "a",
		"keep/.git/HEAD":    "ref",
		"vendor/skip.go":    "s",
		"deep/x/y/z/w.go":   "w",
		"deep/node_modules": "file named like an ignored dir",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	scanner := NewPathScanner(segmentMatcher{names: []string{".git", "node_modules", "vendor"}}, testLogger())

	result, err := scanner.Scan(context.Background(), root)
	require.NoError(t, err)

	for _, p := range result.Paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.False(t, info.IsDir(), "directory emitted: %s", p)

		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		assert.False(t, segmentMatcher{names: []string{".git", "node_modules", "vendor"}}.ShouldIgnore(filepath.ToSlash(rel), false), "ignored path emitted: %s", rel)
	}
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "keep", "a.go"),
		filepath.Join(root, "deep", "x", "y", "z", "w.go"),
	}, result.Paths)
}

func TestPathScanner_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"real.txt": "real"})
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	result, err := NewPathScanner(nil, testLogger()).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "real.txt")}, result.Paths)
}

func TestPathScanner_InvalidRoot(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"file.txt": "x"})
	scanner := NewPathScanner(nil, testLogger())

	tests := []struct {
		name string
		root string
	}{
		{name: "missing root", root: filepath.Join(root, "missing")},
		{name: "root is a file", root: filepath.Join(root, "file.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := scanner.Scan(context.Background(), tt.root)
			assert.Error(t, err)
			assert.Nil(t, result)
		})
	}
}

func TestPathScanner_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPathScanner(nil, testLogger()).Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

// failingWalk は dir の読み込みが失敗したときの filepath.WalkDir の挙動を再現する
func failingWalk(dir string, readErr error) func(string, fs.WalkDirFunc) error {
	return func(root string, fn fs.WalkDirFunc) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err == nil && path == dir {
				if err := fn(path, d, nil); err != nil {
					return err
				}
				return fn(path, d, readErr)
			}
			return fn(path, d, err)
		})
	}
}

func TestPathScanner_UnreadableDirectoryIsReported(t *testing.T) {
	// Setup
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":         "a",
		"locked/secret": "s",
		"z/after.txt":   "z",
	})
	locked := filepath.Join(root, "locked")
	scanner := NewPathScanner(nil, testLogger())
	scanner.walk = failingWalk(locked, fs.ErrPermission)

	// Execute
	result, err := scanner.Scan(context.Background(), root)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "z", "after.txt"),
	}, result.Paths)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], ErrScan)
	assert.Contains(t, result.Errors[0].Error(), locked)
}

func TestPathScanner_UnreadableDirectoryOnDisk(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":         "a",
		"locked/secret": "s",
		"z/after.txt":   "z",
	})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	result, err := NewPathScanner(nil, testLogger()).Scan(context.Background(), root)

	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "z", "after.txt"),
	}, result.Paths)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], ErrScan)
}
