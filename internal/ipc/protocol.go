package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Greeting is written by the daemon to every accepted connection.
const Greeting = "HELO;"

// MaxFrameSize bounds the JSON body of a single frame.
const MaxFrameSize = 1 << 20

// Commands understood by the default daemon router.
const (
	CommandPing   = "ping"
	CommandStatus = "status"
	CommandList   = "list"
)

// MessageType tags a Message on the wire.
type MessageType uint32

const (
	MessageHelo MessageType = iota
	MessageRequest
	MessageResponse
)

// ParseMessageType validates a numeric wire tag.
func ParseMessageType(tag uint32) (MessageType, error) {
	switch MessageType(tag) {
	case MessageHelo, MessageRequest, MessageResponse:
		return MessageType(tag), nil
	default:
		return 0, &DecodeError{Reason: fmt.Sprintf("unknown message type %d", tag)}
	}
}

func (t MessageType) String() string {
	switch t {
	case MessageHelo:
		return "helo"
	case MessageRequest:
		return "request"
	case MessageResponse:
		return "response"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Message is the unit exchanged after the greeting. ID has no ordering or
// uniqueness meaning; responses echo the request's ID.
type Message struct {
	ID      uint32          `json:"msg_id"`
	Type    MessageType     `json:"type"`
	Command string          `json:"command,omitempty"`
	Args    []string        `json:"args,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewRequest builds a request message.
func NewRequest(id uint32, command string, args ...string) Message {
	return Message{ID: id, Type: MessageRequest, Command: command, Args: args}
}

// Reply builds a successful response to req carrying data.
func Reply(req Message, data any) (Message, error) {
	resp := Message{ID: req.ID, Type: MessageResponse, Command: req.Command, OK: true}
	if data == nil {
		return resp, nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s response: %w", req.Command, err)
	}
	resp.Data = payload
	return resp, nil
}

// Fail builds an error response to req.
func Fail(req Message, reason string) Message {
	return Message{ID: req.ID, Type: MessageResponse, Command: req.Command, Error: reason}
}

// DecodeData unmarshals the response payload into v.
func (m Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s response carried no data", m.Command)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return &DecodeError{Reason: m.Command + " payload", Err: err}
	}
	return nil
}

// ProcessInfo is one row of the process table.
type ProcessInfo struct {
	Name  string    `json:"name"`
	PID   int       `json:"pid"`
	State string    `json:"state"`
	Since time.Time `json:"since"`
}

// StatusInfo describes the running daemon.
type StatusInfo struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	SocketPath string    `json:"socket_path"`
	PIDPath    string    `json:"pid_path"`
	Sessions   uint64    `json:"sessions"`
}

// WriteGreeting writes the session greeting.
func WriteGreeting(w io.Writer) error {
	if _, err := io.WriteString(w, Greeting); err != nil {
		return fmt.Errorf("write greeting: %w", err)
	}
	return nil
}

// ReadGreeting consumes the session greeting.
func ReadGreeting(r io.Reader) error {
	buf := make([]byte, len(Greeting))
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return &DecodeError{Reason: "truncated greeting", Err: err}
		}
		return fmt.Errorf("read greeting: %w", err)
	}
	if string(buf) != Greeting {
		return &DecodeError{Reason: fmt.Sprintf("unexpected greeting %q", buf)}
	}
	return nil
}

// WriteMessage writes msg as one length-prefixed frame.
func WriteMessage(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("encode message: frame of %d bytes exceeds %d", len(body), MaxFrameSize)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one frame. A clean end of stream before any header byte
// returns io.EOF; transport errors are returned wrapped; anything malformed is
// a *DecodeError.
func ReadMessage(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Message{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Message{}, &DecodeError{Reason: "truncated frame header", Err: err}
		}
		return Message{}, fmt.Errorf("read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > MaxFrameSize {
		return Message{}, &DecodeError{Reason: fmt.Sprintf("invalid frame length %d", size)}
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, &DecodeError{Reason: "truncated frame body", Err: err}
		}
		return Message{}, fmt.Errorf("read frame body: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, &DecodeError{Reason: "malformed frame body", Err: err}
	}
	if _, err := ParseMessageType(uint32(msg.Type)); err != nil {
		return Message{}, err
	}
	return msg, nil
}
