package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"webloop/internal/utils"
)

// ScreenshotEntry records one saved screenshot.
type ScreenshotEntry struct {
	Iteration int               `json:"iteration"`
	Name      string            `json:"name"`
	Path      string            `json:"path"`
	SizeBytes int64             `json:"size_bytes"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	SavedAt   string            `json:"saved_at"`
}

// EvaluationEntry records one persisted evaluation verdict.
type EvaluationEntry struct {
	Iteration int     `json:"iteration"`
	Path      string  `json:"path"`
	Score     float64 `json:"score"`
	Passed    bool    `json:"passed"`
	SavedAt   string  `json:"saved_at"`
}

// LogEntry records an auxiliary log artifact.
type LogEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	SavedAt string `json:"saved_at"`
}

// FileEntry records a generated or derived file artifact.
type FileEntry struct {
	Name     string            `json:"name"`
	Path     string            `json:"path"`
	Kind     string            `json:"kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SavedAt  string            `json:"saved_at"`
}

// ReportEntry records a rendered report artifact.
type ReportEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	SavedAt string `json:"saved_at"`
}

// Manifest is the on-disk index of all artifacts for a run. It is
// rewritten in full after every append.
type Manifest struct {
	Screenshots []ScreenshotEntry `json:"screenshots"`
	Evaluations []EvaluationEntry `json:"evaluations"`
	Logs        []LogEntry        `json:"logs"`
	Files       []FileEntry       `json:"files"`
	Reports     []ReportEntry     `json:"reports"`
	UpdatedAt   string            `json:"updated_at"`
}

// Store writes typed artifacts under a run's artifacts directory and
// keeps manifest.json in sync. Append-only: re-saving the same
// (iteration, name) overwrites the file deterministically and the
// latest manifest entry wins.
type Store struct {
	mu       sync.Mutex
	dir      string
	manifest Manifest
	logger   utils.ExtendedLogger
}

// NewStore creates the artifacts directory layout and an empty
// manifest.
func NewStore(dir string, logger utils.ExtendedLogger) (*Store, error) {
	for _, sub := range []string{"", "screenshots", "evaluations", "logs", "files", "reports"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create artifacts directory: %w", err)
		}
	}
	s := &Store{dir: dir, logger: logger}
	if err := s.persistManifestLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the artifacts root.
func (s *Store) Dir() string { return s.dir }

// ManifestPath returns the artifact index location.
func (s *Store) ManifestPath() string { return filepath.Join(s.dir, "manifest.json") }

// Manifest returns a copy of the in-memory manifest.
func (s *Store) Manifest() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest
}

// SaveScreenshot copies src under a structured name and indexes it.
func (s *Store) SaveScreenshot(iteration int, name, src string, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := filepath.Join(s.dir, "screenshots", fmt.Sprintf("iter_%d_%s", iteration, name))
	size, err := copyFile(src, dst)
	if err != nil {
		return "", fmt.Errorf("save screenshot: %w", err)
	}

	s.manifest.Screenshots = append(s.manifest.Screenshots, ScreenshotEntry{
		Iteration: iteration,
		Name:      name,
		Path:      dst,
		SizeBytes: size,
		Metadata:  metadata,
		SavedAt:   now(),
	})
	return dst, s.persistManifestLocked()
}

// SaveEvaluation persists a verdict document for an iteration.
func (s *Store) SaveEvaluation(iteration int, verdict interface{}, score float64, passed bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := filepath.Join(s.dir, "evaluations", fmt.Sprintf("evaluation_iter_%d.json", iteration))
	if err := writeJSON(dst, verdict); err != nil {
		return "", fmt.Errorf("save evaluation: %w", err)
	}

	s.manifest.Evaluations = append(s.manifest.Evaluations, EvaluationEntry{
		Iteration: iteration,
		Path:      dst,
		Score:     score,
		Passed:    passed,
		SavedAt:   now(),
	})
	return dst, s.persistManifestLocked()
}

// SaveLog persists raw log content under logs/.
func (s *Store) SaveLog(name, kind string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := filepath.Join(s.dir, "logs", name)
	if err := os.WriteFile(dst, content, 0644); err != nil {
		return "", fmt.Errorf("save log: %w", err)
	}

	s.manifest.Logs = append(s.manifest.Logs, LogEntry{
		Name:    name,
		Path:    dst,
		Kind:    kind,
		SavedAt: now(),
	})
	return dst, s.persistManifestLocked()
}

// SaveFile persists an arbitrary generated file artifact.
func (s *Store) SaveFile(name, kind string, content []byte, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := filepath.Join(s.dir, "files", name)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}
	if err := os.WriteFile(dst, content, 0644); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}

	s.manifest.Files = append(s.manifest.Files, FileEntry{
		Name:     name,
		Path:     dst,
		Kind:     kind,
		Metadata: metadata,
		SavedAt:  now(),
	})
	return dst, s.persistManifestLocked()
}

// SaveJSON persists v as a JSON file artifact.
func (s *Store) SaveJSON(name, kind string, v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	return s.SaveFile(name, kind, data, nil)
}

// SaveReport persists a rendered report document.
func (s *Store) SaveReport(name string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := filepath.Join(s.dir, "reports", name)
	if err := os.WriteFile(dst, content, 0644); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}

	s.manifest.Reports = append(s.manifest.Reports, ReportEntry{
		Name:    name,
		Path:    dst,
		SavedAt: now(),
	})
	return dst, s.persistManifestLocked()
}

// Counts returns the number of entries per artifact list.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"screenshots": len(s.manifest.Screenshots),
		"evaluations": len(s.manifest.Evaluations),
		"logs":        len(s.manifest.Logs),
		"files":       len(s.manifest.Files),
		"reports":     len(s.manifest.Reports),
	}
}

// LoadManifest reads an artifact manifest back from disk.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	//nolint:gosec // G304: path is controller-owned
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read artifact manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse artifact manifest: %w", err)
	}
	return m, nil
}

func (s *Store) persistManifestLocked() error {
	s.manifest.UpdatedAt = now()
	if err := writeJSON(s.ManifestPath(), s.manifest); err != nil {
		return fmt.Errorf("persist artifact manifest: %w", err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func copyFile(src, dst string) (int64, error) {
	//nolint:gosec // G304: src is produced by the browser subprocess under our artifacts dir
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, err
	}
	return n, out.Sync()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
