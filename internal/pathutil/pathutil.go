package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

func ExpandHomePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return filepath.Clean(p)
		}
		if p == "~" {
			return filepath.Clean(home)
		}
		return filepath.Clean(filepath.Join(home, strings.TrimPrefix(p, "~/")))
	}
	return filepath.Clean(p)
}

// OutsideRoot reports whether dir lies outside root after cleaning. An empty
// root or dir means nothing is outside.
func OutsideRoot(root, dir string) bool {
	root = strings.TrimSpace(root)
	dir = strings.TrimSpace(dir)
	if root == "" || dir == "" {
		return false
	}
	root = filepath.Clean(root)
	dir = filepath.Clean(dir)
	if dir == root {
		return false
	}
	return !strings.HasPrefix(dir, root+string(filepath.Separator))
}
