package policy

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultScanRoots covers the common user directories plus the filesystem root.
const DefaultScanRoots = "~/Desktop,~/Documents,/Volumes,/"

// ExpandPath resolves a leading "~", makes the path absolute and follows
// symlinks when the path exists.
func ExpandPath(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	return p
}

// ParseRoots splits a comma-separated allow-list and expands each entry.
// An empty list falls back to DefaultScanRoots.
func ParseRoots(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultScanRoots
	}
	var roots []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		roots = append(roots, ExpandPath(item))
	}
	return roots
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
