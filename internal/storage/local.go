// Package storage keeps job artifacts on the local filesystem.
//
// Layout:
//
//	<root>/uploads/<job_id>/...   inputs
//	<root>/outputs/<job_id>.mp4   output
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Local struct {
	root string
}

func NewLocal(root string) *Local {
	if root == "" {
		root = "storage"
	}
	return &Local{root: root}
}

func (l *Local) UploadDir(jobID string) string {
	return filepath.Join(l.root, "uploads", jobID)
}

// OutputPath is where the final artifact of jobID is written.
func (l *Local) OutputPath(jobID string) string {
	return filepath.Join(l.root, "outputs", jobID+".mp4")
}

// Save writes r into the upload directory of jobID under name and returns
// the stored path.
func (l *Local) Save(jobID, name string, r io.Reader) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	dir := l.UploadDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
