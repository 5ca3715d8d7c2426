package daemon

import (
	"context"
	"net"
	"testing"
	"time"

	"tsusu/internal/ipc"
)

func TestSessionDispatchesOneRequest(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	calls := 0
	dispatcher := DispatcherFunc(func(_ context.Context, req ipc.Message) ipc.Message {
		calls++
		resp, _ := ipc.Reply(req, map[string]string{"echo": req.Command})
		return resp
	})
	done := make(chan struct{})
	go func() {
		NewSession("test", dispatcher, time.Second, nil).Handle(context.Background(), server)
		close(done)
	}()

	if err := client.SetDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if err := ipc.ReadGreeting(client); err != nil {
		t.Fatalf("ReadGreeting: %v", err)
	}
	if err := ipc.WriteMessage(client, ipc.NewRequest(11, "echo")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	resp, err := ipc.ReadMessage(client)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if resp.ID != 11 || resp.Type != ipc.MessageResponse || !resp.OK {
		t.Fatalf("unexpected response %+v", resp)
	}
	<-done
	if calls != 1 {
		t.Fatalf("expected one dispatch, got %d", calls)
	}
}

func TestSessionRejectsNonRequest(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	dispatcher := DispatcherFunc(func(_ context.Context, req ipc.Message) ipc.Message {
		t.Errorf("dispatcher must not be called")
		return ipc.Fail(req, "unexpected")
	})
	done := make(chan struct{})
	go func() {
		NewSession("test", dispatcher, time.Second, nil).Handle(context.Background(), server)
		close(done)
	}()

	_ = client.SetDeadline(time.Now().Add(time.Second))
	if err := ipc.ReadGreeting(client); err != nil {
		t.Fatalf("ReadGreeting: %v", err)
	}
	if err := ipc.WriteMessage(client, ipc.Message{ID: 1, Type: ipc.MessageResponse}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	<-done
	if _, err := ipc.ReadMessage(client); err == nil {
		t.Fatal("expected closed connection")
	}
}
