// Package workspace owns the run-scoped working directories the pipeline
// checks sources out into. Directories live under a common root and are
// recreated on prepare, so a re-run of the same build number starts clean.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns run working directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the configured workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Prepare creates an empty directory for the given run, removing any residue
// from a previous run with the same identifier.
func (m *Manager) Prepare(runID int) (string, error) {
	if runID <= 0 {
		return "", fmt.Errorf("run id must be positive")
	}
	dir := filepath.Join(m.root, fmt.Sprintf("run-%d", runID))
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("reset workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Cleanup removes a workspace directory. Paths outside the configured root
// are refused.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}
