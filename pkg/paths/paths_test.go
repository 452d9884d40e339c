package paths

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesRunLayout(t *testing.T) {
	base := t.TempDir()
	pc, err := New(base, "project", "", "127.0.0.1", 8000)
	require.NoError(t, err)

	assert.True(t, ValidateInside(pc.WorkspaceDir, pc.ProjectRoot))
	assert.True(t, ValidateInside(pc.WorkspaceDir, pc.SiteDir))
	assert.True(t, ValidateInside(pc.WorkspaceDir, pc.ArtifactsDir))
	assert.DirExists(t, pc.ProjectRoot)
	assert.DirExists(t, pc.SiteDir)
	assert.DirExists(t, pc.ArtifactsDir)
}

func TestRunIDSortable(t *testing.T) {
	a := NewRunID()
	time.Sleep(1100 * time.Millisecond)
	b := NewRunID()
	assert.Less(t, a[:15], b[:15])
	assert.NotEqual(t, a, b)
}

func TestSafeJoinConfinement(t *testing.T) {
	base := t.TempDir()
	pc, err := New(base, "project", "run-1", "127.0.0.1", 8000)
	require.NoError(t, err)

	p, err := pc.SafeJoin("css", "style.css")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pc.ProjectRoot, "css", "style.css"), p)

	_, err = pc.SafeJoin("..", "escape.txt")
	assert.ErrorIs(t, err, ErrPathOutsideProject)

	_, err = pc.SafeJoin("../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathOutsideProject)

	// Joining the root itself is allowed.
	p, err = pc.SafeJoin(".")
	require.NoError(t, err)
	assert.Equal(t, pc.ProjectRoot, p)
}

func TestValidateInside(t *testing.T) {
	base := t.TempDir()
	assert.True(t, ValidateInside(base, filepath.Join(base, "a", "b")))
	assert.True(t, ValidateInside(base, base))
	assert.False(t, ValidateInside(base, filepath.Join(base, "..")))
	assert.False(t, ValidateInside(filepath.Join(base, "proj"), filepath.Join(base, "projother")))
}

func TestPreviewURLNeverFileScheme(t *testing.T) {
	base := t.TempDir()
	pc, err := New(base, "project", "run-2", "127.0.0.1", 8123)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8123/", pc.PreviewURL())
	assert.True(t, strings.HasPrefix(pc.PreviewURLFor("index.html"), "http://"))
	assert.Equal(t, "http://127.0.0.1:8123/index.html", pc.PreviewURLFor("/index.html"))
}
