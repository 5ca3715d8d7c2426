package daemon_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"tsusu/internal/daemon"
	"tsusu/internal/ipc"
	"tsusu/internal/logging"
	"tsusu/internal/pidfile"
	"tsusu/internal/rundir"
	"tsusu/internal/testsupport"
)

type runningDaemon struct {
	d     *daemon.Daemon
	paths rundir.Paths
	table *daemon.Table
	done  chan error
}

func newPaths(t *testing.T) rundir.Paths {
	t.Helper()
	return rundir.ForDir(filepath.Join(testsupport.ShortTempDir(t), "tsusu"))
}

func startDaemon(t *testing.T, paths rundir.Paths) *runningDaemon {
	t.Helper()

	table := daemon.NewTable()
	d, err := daemon.New(daemon.Options{
		Paths:          paths,
		Table:          table,
		Logger:         logging.NewNop(),
		RequestTimeout: 150 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rd := &runningDaemon{d: d, paths: paths, table: table, done: make(chan error, 1)}
	go func() { rd.done <- d.Run() }()
	t.Cleanup(func() {
		d.Stop()
		select {
		case <-rd.done:
		case <-time.After(2 * time.Second):
			t.Errorf("daemon did not stop")
		}
	})
	return rd
}

func (rd *runningDaemon) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-rd.done:
		rd.done <- err
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for daemon to stop")
		return nil
	}
}

func TestStartCreatesSocketAndPIDMarker(t *testing.T) {
	rd := startDaemon(t, newPaths(t))

	if rd.d.State() != daemon.StateRunning {
		t.Fatalf("expected running state, got %s", rd.d.State())
	}
	info, err := os.Stat(rd.paths.Socket)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Fatalf("expected socket file, got mode %v", info.Mode())
	}
	data, err := os.ReadFile(rd.paths.PID)
	if err != nil {
		t.Fatalf("read pid marker: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid())+"\n" {
		t.Fatalf("unexpected pid marker %q", data)
	}
}

func TestGreetingOnlyExchange(t *testing.T) {
	rd := startDaemon(t, newPaths(t))

	conn, err := net.DialTimeout("unix", rd.paths.Socket, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}

	buf := make([]byte, len(ipc.Greeting))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if string(buf) != "HELO;" {
		t.Fatalf("unexpected greeting %q", buf)
	}

	// The daemon closes the connection once the request window passes.
	n, err := conn.Read(make([]byte, 16))
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after greeting, got n=%d err=%v", n, err)
	}
}

func TestListRequest(t *testing.T) {
	rd := startDaemon(t, newPaths(t))
	rd.table.Set(ipc.ProcessInfo{Name: "worker", PID: 99, State: "running"})
	rd.table.Set(ipc.ProcessInfo{Name: "api", PID: 98, State: "stopped"})

	client, err := ipc.Dial(rd.paths.Socket, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	rows, err := client.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 || rows[0].Name != "api" || rows[1].Name != "worker" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestStatusRequestCountsSessions(t *testing.T) {
	rd := startDaemon(t, newPaths(t))

	first, err := ipc.Dial(rd.paths.Socket, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := first.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = first.Close()

	second, err := ipc.Dial(rd.paths.Socket, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()
	status, err := second.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.PID != os.Getpid() {
		t.Fatalf("unexpected pid %d", status.PID)
	}
	if status.Sessions != 2 {
		t.Fatalf("expected 2 sessions, got %d", status.Sessions)
	}
	if status.SocketPath != rd.paths.Socket || status.PIDPath != rd.paths.PID {
		t.Fatalf("unexpected paths in status: %+v", status)
	}
}

func TestDecodeErrorDoesNotAffectDaemon(t *testing.T) {
	rd := startDaemon(t, newPaths(t))

	conn, err := net.DialTimeout("unix", rd.paths.Socket, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if err := ipc.ReadGreeting(conn); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	body := []byte(`{"msg_id":5,"type":9}`)
	var frame bytes.Buffer
	_ = binary.Write(&frame, binary.BigEndian, uint32(len(body)))
	frame.Write(body)
	if _, err := conn.Write(frame.Bytes()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, err := conn.Read(make([]byte, 16)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected daemon to drop the connection, got %v", err)
	}
	_ = conn.Close()

	client, err := ipc.Dial(rd.paths.Socket, time.Second)
	if err != nil {
		t.Fatalf("dial after bad client: %v", err)
	}
	defer client.Close()
	if err := client.Ping(); err != nil {
		t.Fatalf("Ping after bad client: %v", err)
	}
	if rd.d.State() != daemon.StateRunning {
		t.Fatalf("daemon left running state: %s", rd.d.State())
	}
}

func TestUnknownCommandGetsErrorResponse(t *testing.T) {
	rd := startDaemon(t, newPaths(t))

	client, err := ipc.Dial(rd.paths.Socket, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	_, err = client.Do(ipc.NewRequest(3, "restart", "web"))
	var remote *ipc.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

func TestStopCleansUpAndShutdownIsIdempotent(t *testing.T) {
	rd := startDaemon(t, newPaths(t))

	rd.d.Stop()
	if err := rd.wait(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if rd.d.State() != daemon.StateStopped {
		t.Fatalf("expected stopped state, got %s", rd.d.State())
	}
	if _, err := os.Stat(rd.paths.Socket); !os.IsNotExist(err) {
		t.Fatalf("expected socket removed, stat err=%v", err)
	}
	if _, err := os.Stat(rd.paths.PID); !os.IsNotExist(err) {
		t.Fatalf("expected pid marker removed, stat err=%v", err)
	}
	if err := rd.d.Shutdown(); err != nil {
		t.Fatalf("second Shutdown returned error: %v", err)
	}
	if _, err := net.DialTimeout("unix", rd.paths.Socket, 100*time.Millisecond); !ipc.IsUnavailable(err) {
		t.Fatalf("expected socket unavailable after shutdown, got %v", err)
	}
}

func TestSIGTERMStopsDaemon(t *testing.T) {
	rd := startDaemon(t, newPaths(t))

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("send SIGTERM: %v", err)
	}
	if err := rd.wait(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, err := os.Stat(rd.paths.Socket); !os.IsNotExist(err) {
		t.Fatalf("expected socket removed, stat err=%v", err)
	}
	if _, err := os.Stat(rd.paths.PID); !os.IsNotExist(err) {
		t.Fatalf("expected pid marker removed, stat err=%v", err)
	}
}

func TestSIGTERMStopsDaemonWhileClientsKeepConnecting(t *testing.T) {
	rd := startDaemon(t, newPaths(t))

	// Idle clients each hold a session for the full request timeout, so the
	// accept backlog never empties on its own.
	quit := make(chan struct{})
	dialerDone := make(chan struct{})
	go func() {
		defer close(dialerDone)
		var conns []net.Conn
		defer func() {
			for _, conn := range conns {
				_ = conn.Close()
			}
		}()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
			}
			conn, err := net.DialTimeout("unix", rd.paths.Socket, 100*time.Millisecond)
			if err == nil {
				conns = append(conns, conn)
			}
		}
	}()
	t.Cleanup(func() {
		close(quit)
		<-dialerDone
	})

	time.Sleep(300 * time.Millisecond)
	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("send SIGTERM: %v", err)
	}
	if err := rd.wait(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if rd.d.State() != daemon.StateStopped {
		t.Fatalf("expected stopped state, got %s", rd.d.State())
	}
	if _, err := os.Stat(rd.paths.PID); !os.IsNotExist(err) {
		t.Fatalf("expected pid marker removed, stat err=%v", err)
	}
}

func TestRunEndsCleanlyWhenSocketCleanupFails(t *testing.T) {
	rd := startDaemon(t, newPaths(t))

	// A non-empty directory at the socket path cannot be unlinked.
	if err := os.Remove(rd.paths.Socket); err != nil {
		t.Fatalf("remove socket: %v", err)
	}
	testsupport.WriteFile(t, filepath.Join(rd.paths.Socket, "keep"), "x")

	rd.d.Stop()
	if err := rd.wait(t); err != nil {
		t.Fatalf("expected clean stop despite cleanup failure, got %v", err)
	}
	if rd.d.State() != daemon.StateStopped {
		t.Fatalf("expected stopped state, got %s", rd.d.State())
	}
	if _, err := os.Stat(rd.paths.PID); !os.IsNotExist(err) {
		t.Fatalf("expected pid marker removed, stat err=%v", err)
	}
}

func TestSecondDaemonFailsWithoutTouchingFirst(t *testing.T) {
	paths := newPaths(t)
	first := startDaemon(t, paths)

	before, err := os.ReadFile(paths.PID)
	if err != nil {
		t.Fatalf("read pid marker: %v", err)
	}

	second, err := daemon.New(daemon.Options{Paths: paths, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(); !errors.Is(err, pidfile.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if second.State() != daemon.StateStopped {
		t.Fatalf("expected failed daemon to be stopped, got %s", second.State())
	}

	after, err := os.ReadFile(paths.PID)
	if err != nil {
		t.Fatalf("pid marker missing after failed start: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("pid marker changed: %q -> %q", before, after)
	}
	client, err := ipc.Dial(paths.Socket, time.Second)
	if err != nil {
		t.Fatalf("first daemon unreachable: %v", err)
	}
	defer client.Close()
	if err := client.Ping(); err != nil {
		t.Fatalf("Ping first daemon: %v", err)
	}
	if first.d.State() != daemon.StateRunning {
		t.Fatalf("first daemon state changed: %s", first.d.State())
	}
}

func TestStartRecoversStaleSocket(t *testing.T) {
	paths := newPaths(t)
	if err := paths.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	testsupport.WriteFile(t, paths.Socket, "left behind")
	testsupport.WriteFile(t, paths.PID, "999999\n")

	rd := startDaemon(t, paths)
	client, err := ipc.Dial(rd.paths.Socket, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if err := client.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestStartFailsWhenSocketIsLive(t *testing.T) {
	paths := newPaths(t)
	if err := paths.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	foreign, err := ipc.Bind(paths.Socket)
	if err != nil {
		t.Fatalf("bind foreign socket: %v", err)
	}
	t.Cleanup(func() { _ = foreign.Close() })

	d, err := daemon.New(daemon.Options{Paths: paths, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(); !errors.Is(err, ipc.ErrAddressInUse) {
		t.Fatalf("expected ErrAddressInUse, got %v", err)
	}
	if _, err := os.Stat(paths.Socket); err != nil {
		t.Fatalf("live socket must not be unlinked: %v", err)
	}
	if _, err := os.Stat(paths.PID); !os.IsNotExist(err) {
		t.Fatalf("pid marker should be released after failed start, stat err=%v", err)
	}
}

func TestStartKeepsRegularFileAtSocketPath(t *testing.T) {
	paths := newPaths(t)
	testsupport.WriteFile(t, paths.Socket, "user data")

	d, err := daemon.New(daemon.Options{Paths: paths, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(); !errors.Is(err, ipc.ErrAddressInUse) {
		t.Fatalf("expected ErrAddressInUse, got %v", err)
	}
	data, err := os.ReadFile(paths.Socket)
	if err != nil {
		t.Fatalf("regular file must not be unlinked: %v", err)
	}
	if string(data) != "user data" {
		t.Fatalf("file content changed: %q", data)
	}
	if _, err := os.Stat(paths.PID); !os.IsNotExist(err) {
		t.Fatalf("pid marker should be released after failed start, stat err=%v", err)
	}
}

func TestStartFailsWithoutRuntimeParent(t *testing.T) {
	paths := rundir.ForDir(filepath.Join(testsupport.ShortTempDir(t), "missing", "tsusu"))
	d, err := daemon.New(daemon.Options{Paths: paths})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(); err == nil {
		t.Fatal("expected Start to fail")
	}
	if d.State() != daemon.StateStopped {
		t.Fatalf("expected stopped state, got %s", d.State())
	}
	if err := d.Run(); err == nil {
		t.Fatal("expected Run to refuse a stopped daemon")
	}
}

func TestStopBeforeRun(t *testing.T) {
	d, err := daemon.New(daemon.Options{Paths: newPaths(t)})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Stop()
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.State() != daemon.StateStopped {
		t.Fatalf("expected stopped state, got %s", d.State())
	}
}

func TestNewRequiresPaths(t *testing.T) {
	if _, err := daemon.New(daemon.Options{}); err == nil {
		t.Fatal("expected error for empty paths")
	}
}
