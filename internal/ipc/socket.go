package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// MaxSocketPath is the portable sun_path limit, including the terminator.
const MaxSocketPath = 104

// Listener is a non-blocking Unix stream socket bound to a filesystem path.
type Listener struct {
	path string
	fd   int

	mu     sync.Mutex
	closed bool
}

// Bind creates, binds, and listens on path. It never unlinks an existing
// file; a path that is already bound yields a BindError wrapping
// ErrAddressInUse.
func Bind(path string) (*Listener, error) {
	if len(path) >= MaxSocketPath {
		return nil, &BindError{Path: path, Op: "bind", Err: fmt.Errorf("socket path longer than %d bytes", MaxSocketPath-1)}
	}

	syscall.ForkLock.RLock()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, &BindError{Path: path, Op: "socket", Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, &BindError{Path: path, Op: "socket", Err: err}
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		if errors.Is(err, unix.EADDRINUSE) {
			return nil, &BindError{Path: path, Op: "bind", Err: fmt.Errorf("%w: %w", ErrAddressInUse, err)}
		}
		return nil, &BindError{Path: path, Op: "bind", Err: err}
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		// The file was created by our bind, so it is ours to remove.
		_ = os.Remove(path)
		return nil, &BindError{Path: path, Op: "listen", Err: err}
	}
	return &Listener{path: path, fd: fd}, nil
}

// RemoveStale unlinks path when it is a socket nothing accepts connections on,
// and reports whether it did. Anything other than a socket is left in place
// and reported as a BindError. Callers must hold the daemon's PID marker lock:
// another daemon between bind and listen would otherwise look stale.
func RemoveStale(path string, timeout time.Duration) (bool, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat control socket %s: %w", path, err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return false, &BindError{Path: path, Op: "bind", Err: fmt.Errorf("%w: existing file is not a socket", ErrAddressInUse)}
	}

	conn, err := net.DialTimeout("unix", path, timeout)
	if err == nil {
		_ = conn.Close()
		return false, nil
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOENT) {
		return false, nil
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		return false, fmt.Errorf("probe control socket %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove stale control socket %s: %w", path, err)
	}
	return true, nil
}

// Accept returns the next pending connection, or nil when none is waiting.
func (l *Listener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, net.ErrClosed
	}

	for {
		nfd, _, err := unix.Accept(l.fd)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
				return nil, nil
			}
			return nil, fmt.Errorf("accept on %s: %w", l.path, err)
		}
		unix.CloseOnExec(nfd)

		file := os.NewFile(uintptr(nfd), "tsusu-session")
		conn, err := net.FileConn(file)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("wrap accepted socket: %w", err)
		}
		return conn, nil
	}
}

// Fd returns the listening descriptor for readiness polling.
func (l *Listener) Fd() int {
	return l.fd
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Close closes the descriptor and then removes the socket file. Only the
// first call has any effect.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if err := unix.Close(l.fd); err != nil {
		errs = append(errs, fmt.Errorf("close control socket: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove control socket: %w", err))
	}
	return errors.Join(errs...)
}
