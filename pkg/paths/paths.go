package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrPathOutsideProject is returned when a join would escape the
// project root. Path confinement is a hard guard: every write the run
// controller initiates goes through SafeJoin.
var ErrPathOutsideProject = errors.New("path resolves outside project root")

// PathConfig holds the canonical directories for one run. All derived
// paths are absolute; ProjectRoot and SiteDir are strictly inside
// WorkspaceDir.
type PathConfig struct {
	RunID        string
	BaseDir      string
	WorkspaceDir string
	ProjectRoot  string
	SiteDir      string
	ArtifactsDir string

	PreviewHost string
	PreviewPort int
}

// NewRunID returns a sortable run identifier: UTC timestamp plus a
// short random suffix. Unique within a base directory.
func NewRunID() string {
	ts := time.Now().UTC().Format("20060102T150405")
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%s", ts, suffix)
}

// New establishes the canonical directory layout for a run under
// baseDir and creates the directories.
func New(baseDir, projectDirName, runID string, previewHost string, previewPort int) (*PathConfig, error) {
	if projectDirName == "" {
		projectDirName = "project"
	}
	if runID == "" {
		runID = NewRunID()
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}

	pc := &PathConfig{
		RunID:        runID,
		BaseDir:      absBase,
		WorkspaceDir: filepath.Join(absBase, runID),
		PreviewHost:  previewHost,
		PreviewPort:  previewPort,
	}
	pc.ProjectRoot = filepath.Join(pc.WorkspaceDir, projectDirName)
	pc.SiteDir = filepath.Join(pc.WorkspaceDir, "site")
	pc.ArtifactsDir = filepath.Join(pc.WorkspaceDir, "artifacts")

	for _, dir := range []string{pc.WorkspaceDir, pc.ProjectRoot, pc.SiteDir, pc.ArtifactsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create run directory %s: %w", dir, err)
		}
	}
	return pc, nil
}

// ValidateInside reports whether p resolves to a descendant of root
// (or root itself). Symlinks are not followed; the check is purely
// lexical on the cleaned absolute path.
func ValidateInside(root, p string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

// SafeJoin joins parts relative to ProjectRoot and fails with
// ErrPathOutsideProject when the result would escape it.
func (pc *PathConfig) SafeJoin(parts ...string) (string, error) {
	joined := filepath.Join(append([]string{pc.ProjectRoot}, parts...)...)
	if !ValidateInside(pc.ProjectRoot, joined) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideProject, filepath.Join(parts...))
	}
	return joined, nil
}

// PreviewURL returns the HTTP preview base URL for the run. The
// preview contract is always http://host:port/, never a file:// URL.
func (pc *PathConfig) PreviewURL() string {
	return fmt.Sprintf("http://%s:%d/", pc.PreviewHost, pc.PreviewPort)
}

// PreviewURLFor returns the preview URL for a file relative to the
// project root.
func (pc *PathConfig) PreviewURLFor(relPath string) string {
	return pc.PreviewURL() + strings.TrimPrefix(filepath.ToSlash(relPath), "/")
}
