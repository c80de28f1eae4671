// Package paths resolves the on-disk layout for profile browser data.
//
// Each profile owns an isolated directory tree that holds its browser user
// data (cookies, local storage, messenger web sessions). Workers must never
// share a data directory: two browser instances over the same profile dir
// corrupt each other's session stores.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRoot is the fallback base directory for profile data when no
// explicit root is configured.
const DefaultRoot = "/var/lib/fleet/profiles"

// Resolver maps profile IDs to their isolated data directories.
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at the given base directory.
// An empty root falls back to DefaultRoot.
func NewResolver(root string) *Resolver {
	if root == "" {
		root = DefaultRoot
	}
	return &Resolver{root: root}
}

// Root returns the configured base directory.
func (r *Resolver) Root() string {
	return r.root
}

// DataDir returns the user-data directory for a profile.
func (r *Resolver) DataDir(profileID string) string {
	return filepath.Join(r.root, sanitize(profileID), "data")
}

// DownloadsDir returns the per-profile downloads directory.
func (r *Resolver) DownloadsDir(profileID string) string {
	return filepath.Join(r.root, sanitize(profileID), "downloads")
}

// EnsureDataDir creates the profile data directory when missing and
// validates it is usable.
func (r *Resolver) EnsureDataDir(profileID string) (string, error) {
	dir := r.DataDir(profileID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create profile data dir: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("stat profile data dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("profile data path is not a directory: %s", dir)
	}
	return dir, nil
}

// Valid reports whether a directory path is inside the resolver's root.
// Workers are only ever launched against managed directories.
func (r *Resolver) Valid(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	root, err := filepath.Abs(r.root)
	if err != nil {
		return false
	}
	return abs == root || strings.HasPrefix(abs, root+string(filepath.Separator))
}

// sanitize strips path separators from IDs so a crafted profile ID cannot
// escape the root.
func sanitize(profileID string) string {
	s := strings.ReplaceAll(profileID, string(filepath.Separator), "_")
	return strings.ReplaceAll(s, "..", "_")
}
