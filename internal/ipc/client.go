package ipc

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is one control-socket session. The daemon serves at most one
// request per connection, so a Client carries at most one request.
type Client struct {
	conn    net.Conn
	timeout time.Duration

	mu      sync.Mutex
	greeted bool
	used    bool
	nextID  uint32
}

// Dial connects to the control socket at path.
func Dial(path string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// ReadGreeting consumes the daemon greeting. Do calls it when needed.
func (c *Client) ReadGreeting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readGreetingLocked()
}

func (c *Client) readGreetingLocked() error {
	if c.greeted {
		return nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if err := ReadGreeting(c.conn); err != nil {
		return err
	}
	c.greeted = true
	return nil
}

// Do sends req and waits for the matching response. A response with OK unset
// is returned together with a *RemoteError.
func (c *Client) Do(req Message) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.used {
		return Message{}, ErrSessionUsed
	}
	if err := c.readGreetingLocked(); err != nil {
		return Message{}, err
	}
	c.used = true

	if req.ID == 0 {
		c.nextID++
		req.ID = c.nextID
	}
	req.Type = MessageRequest

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return Message{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := WriteMessage(c.conn, req); err != nil {
		return Message{}, err
	}
	resp, err := ReadMessage(c.conn)
	if err != nil {
		return Message{}, fmt.Errorf("read %s response: %w", req.Command, err)
	}
	if resp.Type != MessageResponse {
		return Message{}, &DecodeError{Reason: fmt.Sprintf("expected response, got %s", resp.Type)}
	}
	if resp.ID != req.ID {
		return Message{}, &DecodeError{Reason: fmt.Sprintf("response id %d does not match request id %d", resp.ID, req.ID)}
	}
	if !resp.OK {
		return resp, &RemoteError{Command: req.Command, Message: resp.Error}
	}
	return resp, nil
}

// Ping checks that the daemon dispatches requests.
func (c *Client) Ping() error {
	_, err := c.Do(NewRequest(0, CommandPing))
	return err
}

// Status retrieves daemon status.
func (c *Client) Status() (*StatusInfo, error) {
	resp, err := c.Do(NewRequest(0, CommandStatus))
	if err != nil {
		return nil, err
	}
	var info StatusInfo
	if err := resp.DecodeData(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// List retrieves the process table.
func (c *Client) List() ([]ProcessInfo, error) {
	resp, err := c.Do(NewRequest(0, CommandList))
	if err != nil {
		return nil, err
	}
	var rows []ProcessInfo
	if err := resp.DecodeData(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
