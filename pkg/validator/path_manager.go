package validator

import (
	"fmt"
	"strings"
)

// PathManager handles slash separated folder paths in a document store
type PathManager struct{}

// NewPathManager creates a new path manager instance
func NewPathManager() *PathManager {
	return &PathManager{}
}

// Clean trims separators and collapses empty components
func (pm *PathManager) Clean(path string) string {
	return strings.Join(pm.GetPathComponents(path), "/")
}

// Join appends a child name to a parent path
func (pm *PathManager) Join(parentPath, name string) string {
	parentPath = pm.Clean(parentPath)
	name = pm.Clean(name)
	if parentPath == "" {
		return name
	}
	if name == "" {
		return parentPath
	}
	return parentPath + "/" + name
}

// IsAncestorOf checks if the first path is an ancestor of the second
func (pm *PathManager) IsAncestorOf(ancestorPath, descendantPath string) bool {
	ancestorPath = pm.Clean(ancestorPath)
	if ancestorPath == "" {
		return true
	}
	return strings.HasPrefix(pm.Clean(descendantPath), ancestorPath+"/")
}

// GetPathComponents splits a path into its non-empty components
func (pm *PathManager) GetPathComponents(path string) []string {
	components := []string{}
	for _, part := range strings.Split(path, "/") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		components = append(components, part)
	}
	return components
}

// Ancestors returns every prefix of path from the root down to the path
// itself, e.g. "a/b/c" yields "a", "a/b", "a/b/c".
func (pm *PathManager) Ancestors(path string) []string {
	components := pm.GetPathComponents(path)
	paths := make([]string, 0, len(components))
	for i := range components {
		paths = append(paths, strings.Join(components[:i+1], "/"))
	}
	return paths
}

// ValidatePath rejects relative traversal and control characters
func (pm *PathManager) ValidatePath(path string) error {
	for i, component := range pm.GetPathComponents(path) {
		if component == "." || component == ".." {
			return fmt.Errorf("path component %d is a relative reference", i)
		}
		for _, char := range component {
			if char < 0x20 || char == '\\' {
				return fmt.Errorf("path component %d contains invalid character %q", i, char)
			}
		}
	}
	return nil
}
