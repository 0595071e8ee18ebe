// Package security guards the paths picktune writes to: cache entries
// named after event ids and the picker work directory it clears.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside its base directory.
var ErrPathEscape = errors.New("path escapes base directory")

// ValidatePathWithinDirectory checks that path, after cleaning and symlink
// resolution of its deepest existing ancestor, lies inside dir.
func ValidatePathWithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	realPath := resolveExisting(absPath)

	rel, err := filepath.Rel(realDir, realPath)
	if err != nil {
		return fmt.Errorf("%s: %w", path, ErrPathEscape)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s not within %s: %w", path, dir, ErrPathEscape)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of p and
// re-appends the rest.
func resolveExisting(p string) string {
	rest := ""
	for cur := p; ; {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

const maxFilenameLen = 128

// SanitizeFilename maps an identifier such as a SeisComP event public id to
// a safe file name component. Runs of characters outside [A-Za-z0-9._-]
// become one underscore; leading and trailing dots and underscores are
// dropped.
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-'
		if !ok {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
