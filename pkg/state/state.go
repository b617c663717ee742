package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Paths is the canonical runtime folder layout rooted at the cache path.
type Paths struct {
	Store     string // pebble timeline cache
	State     string // runtime state (drafts, retention markers, telemetry)
	Drafts    string
	Retention string
	Tmp       string
}

var (
	pathsMu  sync.RWMutex
	PathsVar Paths
)

// EnsureStateDirs ensures the canonical runtime folder layout exists under
// the provided root. It rejects symlinks and permissive modes and checks
// that every directory is writable by the process.
func EnsureStateDirs(root string) error {
	p := Paths{
		Store:     filepath.Join(root, "store"),
		State:     filepath.Join(root, "state"),
		Drafts:    filepath.Join(root, "state", "drafts"),
		Retention: filepath.Join(root, "state", "retention"),
		Tmp:       filepath.Join(root, "state", "tmp"),
	}

	for _, dir := range []string{p.Store, p.Drafts, p.Retention, p.Tmp} {
		if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", dir, err)
		}
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", dir)
			}
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	pathsMu.Lock()
	PathsVar = p
	pathsMu.Unlock()
	return nil
}

// Dirs returns the current runtime layout (zero value before EnsureStateDirs).
func Dirs() Paths {
	pathsMu.RLock()
	defer pathsMu.RUnlock()
	return PathsVar
}
