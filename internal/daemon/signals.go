package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// stopRequest is queued by Daemon.Stop so programmatic shutdown travels the
// same path as SIGINT and SIGTERM.
type stopRequest struct{}

func (stopRequest) String() string { return "stop request" }
func (stopRequest) Signal()        {}

// signalSource turns process signals into readability on a pipe descriptor
// that the poller can watch alongside the listener.
type signalSource struct {
	readFd  int
	writeFd int

	notify  chan os.Signal
	pending chan os.Signal
	quit    chan struct{}
	done    chan struct{}

	// raised is set with every post so the accept loop can notice a signal
	// without waiting for the poller.
	raised atomic.Bool

	mu     sync.Mutex
	closed bool
}

func newSignalSource(sigs ...os.Signal) (*signalSource, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("create signal pipe: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, fmt.Errorf("configure signal pipe: %w", err)
		}
	}

	s := &signalSource{
		readFd:  fds[0],
		writeFd: fds[1],
		notify:  make(chan os.Signal, 4),
		pending: make(chan os.Signal, 16),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if len(sigs) > 0 {
		signal.Notify(s.notify, sigs...)
	}
	go s.forward()
	return s, nil
}

func (s *signalSource) forward() {
	defer close(s.done)
	for {
		select {
		case sig := <-s.notify:
			s.post(sig)
		case <-s.quit:
			return
		}
	}
}

// post queues sig and wakes the poller. Safe from any goroutine.
func (s *signalSource) post(sig os.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.pending <- sig:
	default:
	}
	s.raised.Store(true)
	// A full pipe already guarantees a wakeup.
	_, _ = unix.Write(s.writeFd, []byte{1})
}

func (s *signalSource) requestStop() {
	s.post(stopRequest{})
}

// Raised reports whether a signal was posted since the last drain.
func (s *signalSource) Raised() bool {
	return s.raised.Load()
}

// Fd returns the descriptor that becomes readable when a signal is pending.
func (s *signalSource) Fd() int {
	return s.readFd
}

// drain empties the pipe and returns every queued signal.
func (s *signalSource) drain() []os.Signal {
	s.raised.Store(false)
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(s.readFd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n <= 0 || err != nil {
			break
		}
	}
	var sigs []os.Signal
	for {
		select {
		case sig := <-s.pending:
			sigs = append(sigs, sig)
		default:
			return sigs
		}
	}
}

// close unregisters the handler and releases both pipe ends. Idempotent.
func (s *signalSource) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	signal.Stop(s.notify)
	close(s.quit)
	<-s.done
	_ = unix.Close(s.readFd)
	_ = unix.Close(s.writeFd)
}
