package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webloop/pkg/logger"
	"webloop/pkg/paths"
)

func testPaths(t *testing.T) *paths.PathConfig {
	t.Helper()
	pc, err := paths.New(t.TempDir(), "project", paths.NewRunID(), "127.0.0.1", 8000)
	require.NoError(t, err)
	return pc
}

func TestRunWithoutTemplateCleansProjectRoot(t *testing.T) {
	pc := testPaths(t)
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")

	stale := filepath.Join(pc.ProjectRoot, "stale.html")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	b := New(pc, Options{}, log)
	require.NoError(t, b.Run(context.Background()))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	info, err := os.Stat(pc.ProjectRoot)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCleanRefusesOutsideWorkspace(t *testing.T) {
	pc := testPaths(t)
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")

	outside := t.TempDir()
	sentinel := filepath.Join(outside, "keep.txt")
	require.NoError(t, os.WriteFile(sentinel, []byte("keep"), 0644))
	pc.ProjectRoot = outside

	b := New(pc, Options{}, log)
	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to clean")

	_, statErr := os.Stat(sentinel)
	assert.NoError(t, statErr)
}

func TestDefaultTemplateRef(t *testing.T) {
	pc := testPaths(t)
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")

	b := New(pc, Options{TemplateRepoURL: "https://example.com/repo.git"}, log)
	assert.Equal(t, "main", b.opts.TemplateRef)
}
