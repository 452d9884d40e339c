package agent

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxSnapshotFileSize bounds what the snapshot reads per file; larger
// files are recorded by path with empty content so diffs still notice
// them.
const maxSnapshotFileSize = 1 << 20

// Snapshot is the workspace state at a point in time: relative path to
// file content for non-hidden text files.
type Snapshot map[string]string

// TakeSnapshot walks root and captures every non-hidden text file.
// Hidden files and directories (dot-prefixed) and binary content are
// skipped.
func TakeSnapshot(root string) (Snapshot, error) {
	snap := Snapshot{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxSnapshotFileSize {
			snap[rel] = ""
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.IndexByte(data, 0) >= 0 {
			// Binary file: track presence, not content.
			snap[rel] = ""
			return nil
		}
		snap[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ChangedFiles returns the sorted relative paths that differ between
// two snapshots: created, modified, or deleted.
func ChangedFiles(before, after Snapshot) []string {
	seen := map[string]bool{}
	var changed []string
	for path, content := range after {
		if prev, ok := before[path]; !ok || prev != content {
			changed = append(changed, path)
		}
		seen[path] = true
	}
	for path := range before {
		if !seen[path] {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}
