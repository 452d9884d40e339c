package runner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"webloop/pkg/paths"
)

// syncToTargets copies the named workspace files into the project root
// and site directory. Both copies are real files, never symlinks, and
// every destination passes the confinement check. Returns relative
// path -> project-root absolute path for the manifest.
func (c *Controller) syncToTargets(relPaths []string) (map[string]string, error) {
	touched := map[string]string{}
	for _, rel := range relPaths {
		src := filepath.Join(c.paths.WorkspaceDir, filepath.FromSlash(rel))
		if _, err := os.Stat(src); err != nil {
			// Deleted by the agent: mirror the delete.
			c.removeFromTargets(rel)
			continue
		}

		dst, err := c.paths.SafeJoin(rel)
		if err != nil {
			c.logger.Warnf("⚠️ Skipping %s: %v", rel, err)
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("copy %s to project root: %w", rel, err)
		}

		siteDst := filepath.Join(c.paths.SiteDir, filepath.FromSlash(rel))
		if !paths.ValidateInside(c.paths.SiteDir, siteDst) {
			c.logger.Warnf("⚠️ Skipping site copy of %s: outside site dir", rel)
			continue
		}
		if err := copyFile(src, siteDst); err != nil {
			return nil, fmt.Errorf("copy %s to site dir: %w", rel, err)
		}
		touched[rel] = dst
	}
	return touched, nil
}

func (c *Controller) removeFromTargets(rel string) {
	if dst, err := c.paths.SafeJoin(rel); err == nil {
		_ = os.Remove(dst)
	}
	siteDst := filepath.Join(c.paths.SiteDir, filepath.FromSlash(rel))
	if paths.ValidateInside(c.paths.SiteDir, siteDst) {
		_ = os.Remove(siteDst)
	}
}

// ensureIndex recovers a missing projectRoot/index.html from the
// workspace copy when present.
func (c *Controller) ensureIndex() {
	dst := filepath.Join(c.paths.ProjectRoot, "index.html")
	if _, err := os.Stat(dst); err == nil {
		return
	}
	src := filepath.Join(c.paths.WorkspaceDir, "index.html")
	if _, err := os.Stat(src); err != nil {
		c.logger.Warnf("⚠️ No index.html in project root or workspace")
		return
	}
	c.logger.Infof("📄 Recovering index.html from workspace")
	if err := copyFile(src, dst); err != nil {
		c.logger.Errorf("❌ Could not recover index.html: %v", err)
	}
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
