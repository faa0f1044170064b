package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveEditPath resolves a user-supplied file reference against a
// workspace root and a current working directory, refusing anything that
// would resolve outside workspace (absolute escapes, ".." traversal, or a
// symlink pointing out). A bare "~" or "~/..." prefix is treated as the
// workspace root, not $HOME, matching cd's in-session semantics.
func resolveEditPath(name, workspace, workDir string) (string, error) {
	name = strings.TrimSpace(name)
	workspace = filepath.Clean(workspace)

	var candidate string
	switch {
	case name == "" || name == "~":
		candidate = workspace
	case strings.HasPrefix(name, "~/"):
		candidate = filepath.Join(workspace, name[2:])
	case filepath.IsAbs(name):
		candidate = filepath.Clean(name)
	default:
		base := workDir
		if base == "" {
			base = workspace
		}
		candidate = filepath.Join(base, name)
	}

	if !pathWithin(workspace, candidate) {
		return "", fmt.Errorf("path %q escapes workspace", name)
	}

	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		if !pathWithin(workspace, resolved) {
			return "", fmt.Errorf("path %q escapes workspace via symlink", name)
		}
		return resolved, nil
	}

	return candidate, nil
}

// pathWithin reports whether target is root itself or a descendant of root.
// Both paths are Cleaned before comparison.
func pathWithin(root, target string) bool {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if root == target {
		return true
	}
	return strings.HasPrefix(target, root+string(filepath.Separator))
}

// shortenHomePath replaces the user's home directory prefix with ~ for display.
func shortenHomePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+"/") {
		return "~" + path[len(home):]
	}
	return path
}
