package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wasmforge/wasmforge/internal/types"
)

// Workspace is the per-job ephemeral directory a runner works in. Each job
// owns a unique directory derived from its id; there is no cross-job
// filesystem sharing.
type Workspace struct {
	Root string
}

// NewWorkspace creates the ephemeral directory for a job.
func NewWorkspace(jobID string) (*Workspace, error) {
	root := filepath.Join(os.TempDir(), "wasmforge", jobID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{Root: root}, nil
}

// Materialize writes the submitted source files under the workspace root.
// Path traversal outside the root is rejected.
func (w *Workspace) Materialize(files []types.SourceFile) error {
	for _, f := range files {
		clean := filepath.Clean(f.Name)
		if clean == "" || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return fmt.Errorf("invalid file path: %s", f.Name)
		}
		dest := filepath.Join(w.Root, clean)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", clean, err)
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", clean, err)
		}
	}
	return nil
}

// Path joins elems onto the workspace root.
func (w *Workspace) Path(elems ...string) string {
	return filepath.Join(append([]string{w.Root}, elems...)...)
}

// Cleanup removes the workspace. Safe to call on every exit path.
func (w *Workspace) Cleanup() {
	if w == nil || w.Root == "" {
		return
	}
	_ = os.RemoveAll(w.Root)
}
