// Package pathguard canonicalizes artifact paths and rejects anything
// that would land outside the run root. Every file write in the engine
// goes through a Guard.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside the sandbox root.
var ErrPathEscape = errors.New("path escapes sandbox root")

// Guard validates paths against a fixed absolute root.
type Guard struct {
	root string
}

// New creates a Guard for root. Root must be absolute; it is cleaned and
// symlink-resolved once so later containment checks compare canonical forms.
func New(root string) (*Guard, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("pathguard: root must be absolute, got %q", root)
	}
	canonical, err := filepath.EvalSymlinks(filepath.Clean(root))
	if err != nil {
		if os.IsNotExist(err) {
			canonical = filepath.Clean(root)
		} else {
			return nil, fmt.Errorf("pathguard: resolve root: %w", err)
		}
	}
	return &Guard{root: canonical}, nil
}

// Root returns the canonical sandbox root.
func (g *Guard) Root() string {
	return g.root
}

// Resolve returns the canonical absolute path for rel iff it lies under
// the root after symlink resolution. Absolute inputs, traversal, NUL bytes,
// and embedded newlines are rejected.
func (g *Guard) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("pathguard: empty path: %w", ErrPathEscape)
	}
	if strings.ContainsAny(rel, "\x00\n\r") {
		return "", fmt.Errorf("pathguard: invalid character in %q: %w", rel, ErrPathEscape)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("pathguard: absolute path %q: %w", rel, ErrPathEscape)
	}

	joined := filepath.Join(g.root, filepath.Clean(rel))
	if !g.contains(joined) {
		return "", fmt.Errorf("pathguard: %q: %w", rel, ErrPathEscape)
	}

	// The target may not exist yet (artifacts are written through tmp
	// files), so resolve symlinks on the deepest existing ancestor and
	// re-check containment against the canonical form.
	canonical, err := resolveExisting(joined)
	if err != nil {
		return "", fmt.Errorf("pathguard: resolve %q: %w", rel, err)
	}
	if !g.contains(canonical) {
		return "", fmt.Errorf("pathguard: %q resolves outside root: %w", rel, ErrPathEscape)
	}
	return canonical, nil
}

// Check verifies that an already-absolute path lies under the root.
func (g *Guard) Check(abs string) error {
	canonical, err := resolveExisting(filepath.Clean(abs))
	if err != nil {
		return fmt.Errorf("pathguard: resolve %q: %w", abs, err)
	}
	if !g.contains(canonical) {
		return fmt.Errorf("pathguard: %q: %w", abs, ErrPathEscape)
	}
	return nil
}

func (g *Guard) contains(abs string) bool {
	if abs == g.root {
		return true
	}
	return strings.HasPrefix(abs, g.root+string(filepath.Separator))
}

// resolveExisting walks up from path to the deepest existing ancestor,
// resolves its symlinks, and rejoins the non-existing suffix.
func resolveExisting(path string) (string, error) {
	existing := path
	var suffix []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		suffix = append([]string{filepath.Base(existing)}, suffix...)
		existing = parent
	}
	canonical, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{canonical}, suffix...)...), nil
}
