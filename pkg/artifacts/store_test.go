package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webloop/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
	s, err := NewStore(filepath.Join(t.TempDir(), "artifacts"), log)
	require.NoError(t, err)
	return s
}

func TestSaveScreenshotAndManifest(t *testing.T) {
	s := newTestStore(t)

	src := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(src, []byte("pngdata"), 0644))

	path, err := s.SaveScreenshot(1, "desktop.png", src, map[string]string{"viewport": "desktop"})
	require.NoError(t, err)
	assert.FileExists(t, path)

	m, err := LoadManifest(s.ManifestPath())
	require.NoError(t, err)
	require.Len(t, m.Screenshots, 1)
	assert.Equal(t, 1, m.Screenshots[0].Iteration)
	assert.Equal(t, int64(7), m.Screenshots[0].SizeBytes)
}

func TestResaveOverwritesDeterministically(t *testing.T) {
	s := newTestStore(t)

	src := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0644))
	p1, err := s.SaveScreenshot(2, "desktop.png", src, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("v2-longer"), 0644))
	p2, err := s.SaveScreenshot(2, "desktop.png", src, nil)
	require.NoError(t, err)

	// Same destination path; the latest manifest entry wins.
	assert.Equal(t, p1, p2)
	data, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, "v2-longer", string(data))

	m := s.Manifest()
	last := m.Screenshots[len(m.Screenshots)-1]
	assert.Equal(t, int64(9), last.SizeBytes)
}

func TestSaveEvaluationRoundTrip(t *testing.T) {
	s := newTestStore(t)

	verdict := map[string]interface{}{"score": 82, "passed": true}
	path, err := s.SaveEvaluation(1, verdict, 82, true)
	require.NoError(t, err)
	assert.FileExists(t, path)

	m, err := LoadManifest(s.ManifestPath())
	require.NoError(t, err)
	require.Len(t, m.Evaluations, 1)
	assert.Equal(t, 82.0, m.Evaluations[0].Score)
	assert.True(t, m.Evaluations[0].Passed)
}

func TestManifestHasFiveLists(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveLog("agent.log", "agent", []byte("log line"))
	require.NoError(t, err)
	_, err = s.SaveFile("diff_index.html.patch", "diff", []byte("--- a\n+++ b\n"), nil)
	require.NoError(t, err)
	_, err = s.SaveReport("view.html", []byte("<html></html>"))
	require.NoError(t, err)

	counts := s.Counts()
	assert.Equal(t, 0, counts["screenshots"])
	assert.Equal(t, 0, counts["evaluations"])
	assert.Equal(t, 1, counts["logs"])
	assert.Equal(t, 1, counts["files"])
	assert.Equal(t, 1, counts["reports"])

	// Round-trip: re-reading yields a structurally equal document.
	m, err := LoadManifest(s.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, s.Manifest(), m)
}
