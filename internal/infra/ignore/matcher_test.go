package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_DefaultPatterns(t *testing.T) {
	m, err := NewMatcher(t.TempDir(), nil, false)
	require.NoError(t, err)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{path: ".git", isDir: true, want: true},
		{path: "node_modules", isDir: true, want: true},
		{path: "web/node_modules", isDir: true, want: true},
		{path: ".codeindex-cache", isDir: true, want: true},
		{path: "src", isDir: true, want: false},
		{path: "src/main.go", isDir: false, want: false},
		{path: "README.md", isDir: false, want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.ShouldIgnore(tt.path, tt.isDir), tt.path)
	}
	assert.Equal(t, DefaultPatterns, m.Patterns())
}

func TestMatcher_CustomPatterns(t *testing.T) {
	m, err := NewMatcher(t.TempDir(), []string{"*.log", "dist/"}, false)
	require.NoError(t, err)

	assert.True(t, m.ShouldIgnore("server.log", false))
	assert.True(t, m.ShouldIgnore("logs/server.log", false))
	assert.True(t, m.ShouldIgnore("dist", true))
	assert.False(t, m.ShouldIgnore("main.go", false))
	// カスタムパターンを指定した場合はデフォルトを含めない
	assert.False(t, m.ShouldIgnore("node_modules", true))
}

func TestMatcher_UseGitignore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("# build output\n\n*.tmp\ncoverage\n"), 0o644))

	withFile, err := NewMatcher(root, nil, true)
	require.NoError(t, err)
	assert.True(t, withFile.ShouldIgnore("cache/a.tmp", false))
	assert.True(t, withFile.ShouldIgnore("coverage", true))
	assert.True(t, withFile.ShouldIgnore(".git", true))
	assert.Equal(t, []string{".git", "node_modules", ".codeindex-cache", "*.tmp", "coverage"}, withFile.Patterns())

	without, err := NewMatcher(root, nil, false)
	require.NoError(t, err)
	assert.False(t, without.ShouldIgnore("cache/a.tmp", false))
}

func TestMatcher_MissingGitignoreIsIgnored(t *testing.T) {
	m, err := NewMatcher(t.TempDir(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, DefaultPatterns, m.Patterns())
}

func TestMatcher_ExtraPatterns(t *testing.T) {
	// extra はカスタムパターン指定時もデフォルト指定時も追加される
	withDefaults, err := NewMatcher(t.TempDir(), nil, false, "/build/cache/")
	require.NoError(t, err)
	assert.True(t, withDefaults.ShouldIgnore(".git", true))
	assert.True(t, withDefaults.ShouldIgnore("build/cache", true))
	assert.False(t, withDefaults.ShouldIgnore("build", true))
	assert.False(t, withDefaults.ShouldIgnore("src/build/cache", true))

	withCustom, err := NewMatcher(t.TempDir(), []string{"*.log"}, false, "/build/cache/")
	require.NoError(t, err)
	assert.True(t, withCustom.ShouldIgnore("build/cache", true))
	assert.True(t, withCustom.ShouldIgnore("server.log", false))
	assert.Equal(t, []string{"*.log", "/build/cache/"}, withCustom.Patterns())
}
