package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

var (
	// ErrAddressInUse reports that another socket is already bound to the path.
	ErrAddressInUse = errors.New("control socket address already in use")
	// ErrSessionUsed reports a second request on a single-request connection.
	ErrSessionUsed = errors.New("connection already carried a request")
)

// BindError describes a failure to set up the control socket.
type BindError struct {
	Path string
	Op   string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// DecodeError describes a frame that could not be turned into a Message.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode message: %s: %v", e.Reason, e.Err)
	}
	return "decode message: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RemoteError carries an error reported by the daemon in a response.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon rejected %q: %s", e.Command, e.Message)
}

// IsUnavailable reports whether err means nothing is listening on the socket.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENOENT)
}
