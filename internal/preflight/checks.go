package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"tsusu/internal/ipc"
)

// CheckDirectoryAccess verifies path is an existing directory the current
// user can read, write, and enter.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckRuntimeDir accepts a missing runtime directory when its parent is
// usable, since the daemon creates the leaf on start.
func CheckRuntimeDir(name, path string) Result {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		parent := CheckDirectoryAccess(name, filepath.Dir(path))
		if !parent.Passed {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: parent unusable: %s)", path, parent.Detail)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (created on start)", path)}
	}
	return CheckDirectoryAccess(name, path)
}

// CheckSocketPath verifies the control socket path fits in sun_path.
func CheckSocketPath(name, path string) Result {
	if len(path) >= ipc.MaxSocketPath {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: longer than %d bytes)", path, ipc.MaxSocketPath-1)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}
