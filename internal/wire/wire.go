// Package wire defines the messages exchanged between an executor and its
// worker processes.
//
// Every message travels as one frame on the worker's duplex pipe and is
// encoded with gob, whatever codec the task payloads themselves use. A
// conversation always looks like:
//
//	worker    -> Ready{PID}
//	executor  -> Init{Func, Codec, Payloads[0]}   (only with an initializer)
//	worker    -> InitDone{Err}
//	executor  -> Task{TaskID, Func, Codec, Payloads}
//	worker    -> Result{TaskID, Outcomes}
//	...
//	executor  -> Shutdown
package wire

import (
	"fmt"
	"strings"

	"github.com/utkarsh5026/goloky/codec"
	"github.com/utkarsh5026/goloky/internal/ipc"
)

// Kind tells the receiver how to read a Message.
type Kind uint8

const (
	KindReady Kind = iota + 1
	KindInit
	KindInitDone
	KindTask
	KindResult
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindInit:
		return "init"
	case KindInitDone:
		return "init-done"
	case KindTask:
		return "task"
	case KindResult:
		return "result"
	case KindShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is the single envelope type on the wire. Fields irrelevant to
// a Kind are left empty.
type Message struct {
	Kind     Kind
	TaskID   uint64
	Func     string
	Codec    string
	Payloads [][]byte
	Outcomes []Outcome
	PID      int
	Err      *RemoteError
}

// Outcome is the result of one payload: either encoded value bytes or the
// error the function returned.
type Outcome struct {
	Value []byte
	Err   *RemoteError
}

// RemoteError carries an error raised inside a worker back to the caller.
type RemoteError struct {
	Type    string
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}

// Format prints the remote stack with %+v.
func (e *RemoteError) Format(s fmt.State, verb rune) {
	switch {
	case verb == 'v' && s.Flag('+') && e.Stack != "":
		fmt.Fprintf(s, "%s\n\nremote stack:\n%s", e.Error(), strings.TrimRight(e.Stack, "\n"))
	default:
		fmt.Fprint(s, e.Error())
	}
}

// NewRemoteError captures err for transfer. The type is the Go type of the
// outermost error value.
func NewRemoteError(err error, stack []byte) *RemoteError {
	if err == nil {
		return nil
	}
	return &RemoteError{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Stack:   string(stack),
	}
}

// Channel sends and receives Messages over an ipc.Conn.
type Channel struct {
	conn *ipc.Conn
}

// NewChannel wraps conn.
func NewChannel(conn *ipc.Conn) *Channel {
	return &Channel{conn: conn}
}

// Send writes m as one frame.
func (c *Channel) Send(m *Message) error {
	return c.conn.Send(codec.Gob{}, m)
}

// Recv reads the next Message. io.EOF means the peer went away.
func (c *Channel) Recv() (*Message, error) {
	var m Message
	if err := c.conn.Recv(codec.Gob{}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Close closes the underlying connection.
func (c *Channel) Close() error { return c.conn.Close() }
