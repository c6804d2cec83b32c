package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveInWorkspace resolves path against the workspace root and rejects
// escapes. Symlinks in the existing portion of the path are followed first,
// so a link pointing outside the root cannot smuggle access through a
// workspace-relative name.
func ResolveInWorkspace(root, path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if resolved, rerr := filepath.EvalSymlinks(rootAbs); rerr == nil {
		rootAbs = resolved
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}

	real, err := resolveExisting(target)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(rootAbs, real)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return real, nil
}

// resolveExisting follows symlinks on the longest existing prefix of path
// and re-joins the not-yet-created remainder, so new files under symlinked
// directories resolve to their real location.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Join(current, remainder), nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}
