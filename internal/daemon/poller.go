package daemon

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const readyMask = unix.POLLIN | unix.POLLHUP | unix.POLLERR

// readiness reports which registered descriptors woke the loop.
type readiness struct {
	listener bool
	signal   bool
}

// poller waits on the listener and signal pipe descriptors.
type poller struct {
	fds []unix.PollFd
}

func newPoller(listenerFd, signalFd int) *poller {
	return &poller{fds: []unix.PollFd{
		{Fd: int32(listenerFd), Events: unix.POLLIN},
		{Fd: int32(signalFd), Events: unix.POLLIN},
	}}
}

// wait blocks until at least one descriptor is ready. EINTR is retried.
func (p *poller) wait() (readiness, error) {
	for {
		for i := range p.fds {
			p.fds[i].Revents = 0
		}
		n, err := unix.Poll(p.fds, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return readiness{}, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		return readiness{
			listener: p.fds[0].Revents&readyMask != 0,
			signal:   p.fds[1].Revents&readyMask != 0,
		}, nil
	}
}
