// Package files provides the workspace-scoped filesystem tools:
// read_file, write_file, edit_file, list_dir, and search_files.
package files

import (
	"github.com/cinder-ai/cinder/internal/safety"
)

// Resolver resolves and validates workspace-relative paths. Absolute paths
// are accepted but must stay inside the workspace root, symlinks included.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, symlink-resolved path within the workspace
// root.
func (r Resolver) Resolve(path string) (string, error) {
	return safety.ResolveInWorkspace(r.Root, path)
}
