// Package rundir resolves the per-user runtime directory that holds the
// daemon's control socket and PID marker.
package rundir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DirName is appended to the runtime base directory.
	DirName    = "tsusu"
	socketName = "sock"
	pidName    = "pid"
)

// ErrEnvironment reports that the runtime base directory cannot be determined.
var ErrEnvironment = errors.New("runtime directory unavailable")

// Paths holds the daemon's runtime file locations.
type Paths struct {
	Dir    string
	Socket string
	PID    string
}

// Resolve derives Paths from override, or from $XDG_RUNTIME_DIR when override
// is empty. No filesystem access happens here.
func Resolve(override string) (Paths, error) {
	dir := strings.TrimSpace(override)
	if dir == "" {
		base := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
		if base == "" {
			return Paths{}, fmt.Errorf("%w: XDG_RUNTIME_DIR is not set", ErrEnvironment)
		}
		if !filepath.IsAbs(base) {
			return Paths{}, fmt.Errorf("%w: XDG_RUNTIME_DIR %q is not absolute", ErrEnvironment, base)
		}
		dir = filepath.Join(base, DirName)
	} else if !filepath.IsAbs(dir) {
		return Paths{}, fmt.Errorf("%w: runtime dir %q is not absolute", ErrEnvironment, dir)
	}
	return ForDir(filepath.Clean(dir)), nil
}

// ForDir builds Paths rooted at dir.
func ForDir(dir string) Paths {
	return Paths{
		Dir:    dir,
		Socket: filepath.Join(dir, socketName),
		PID:    filepath.Join(dir, pidName),
	}
}

// Ensure creates the runtime directory. An existing directory is not an error.
func (p Paths) Ensure() error {
	if err := os.Mkdir(p.Dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create runtime dir %q: %w", p.Dir, err)
	}
	return nil
}
