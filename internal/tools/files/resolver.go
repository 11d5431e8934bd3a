// Package files provides workspace-scoped filesystem tools: read_file,
// list_files, and write_file. Every path is resolved against the workspace
// root and rejected if it escapes it.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config controls filesystem tool defaults.
type Config struct {
	// Workspace is the root directory tools may touch. Empty means the
	// current directory.
	Workspace string

	// MaxReadBytes caps read_file responses. Zero uses the default.
	MaxReadBytes int
}

// Resolver confines tool paths to a workspace root.
type Resolver struct {
	Root string
}

// Resolve cleans the path, anchors relative paths at the workspace root,
// and rejects anything that would land outside it.
func (r Resolver) Resolve(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is required")
	}
	root, err := r.rootAbs()
	if err != nil {
		return "", err
	}
	target := trimmed
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", trimmed, err)
	}
	if !within(root, target) {
		return "", fmt.Errorf("%q is outside the workspace", trimmed)
	}
	return target, nil
}

func (r Resolver) rootAbs() (string, error) {
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	return abs, nil
}

// within reports whether target sits at or below root.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
