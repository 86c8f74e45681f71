package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/utkarsh5026/goloky/codec"
)

// MaxFrameSize bounds a single frame so a corrupt length prefix cannot
// trigger a huge allocation.
const MaxFrameSize = 1 << 30

// Conn carries length-prefixed frames over a pair of byte streams. Either
// side may be nil for a one-way connection. Reads and writes are each
// serialized, so a Conn may be shared by one reader and one writer
// goroutine at a time.
type Conn struct {
	r  io.Reader
	br *bufio.Reader
	w  io.Writer

	rmu sync.Mutex
	wmu sync.Mutex

	closeOnce sync.Once
	closers   []io.Closer
	closed    chan struct{}
}

// NewConn wraps r and w. Any of them implementing io.Closer is closed by
// Close.
func NewConn(r io.Reader, w io.Writer) *Conn {
	c := &Conn{r: r, w: w, closed: make(chan struct{})}
	if r != nil {
		c.br = bufio.NewReader(r)
		if cl, ok := r.(io.Closer); ok {
			c.closers = append(c.closers, cl)
		}
	}
	if w != nil {
		if cl, ok := w.(io.Closer); ok && any(w) != any(r) {
			c.closers = append(c.closers, cl)
		}
	}
	return c
}

// Pipe returns a connected pair. With duplex set both ends can read and
// write; otherwise the first end only reads and the second only writes.
func Pipe(duplex bool) (*Conn, *Conn, error) {
	r1, w1, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}
	if !duplex {
		return NewConn(r1, nil), NewConn(nil, w1), nil
	}

	r2, w2, err := os.Pipe()
	if err != nil {
		_ = r1.Close()
		_ = w1.Close()
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}
	return NewConn(r1, w2), NewConn(r2, w1), nil
}

// Readable reports whether the connection has a read side.
func (c *Conn) Readable() bool { return c.r != nil }

// Writable reports whether the connection has a write side.
func (c *Conn) Writable() bool { return c.w != nil }

// WriteFrame sends one frame.
func (c *Conn) WriteFrame(b []byte) error {
	if c.w == nil {
		return errors.New("ipc: connection is read-only")
	}
	if len(b) > MaxFrameSize {
		return fmt.Errorf("ipc: frame of %d bytes exceeds limit", len(b))
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}

	buf := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	_, err := c.w.Write(buf)
	return err
}

// ReadFrame blocks for the next frame. io.EOF means the peer closed its end.
func (c *Conn) ReadFrame() ([]byte, error) {
	return c.readFrame(time.Time{})
}

// ReadFrameTimeout waits at most timeout for the start of a frame. It
// returns os.ErrDeadlineExceeded when nothing arrived in time. Only
// readers that support deadlines, such as pipes, honor the timeout.
func (c *Conn) ReadFrameTimeout(timeout time.Duration) ([]byte, error) {
	if timeout < 0 {
		return c.ReadFrame()
	}
	// An expired deadline fails before the read is even attempted.
	timeout = max(timeout, time.Millisecond)
	return c.readFrame(time.Now().Add(timeout))
}

type deadliner interface {
	SetReadDeadline(time.Time) error
}

func (c *Conn) readFrame(deadline time.Time) ([]byte, error) {
	if c.r == nil {
		return nil, errors.New("ipc: connection is write-only")
	}

	c.rmu.Lock()
	defer c.rmu.Unlock()

	if c.isClosed() {
		return nil, ErrClosed
	}

	var header [4]byte
	if dl, ok := c.r.(deadliner); ok && !deadline.IsZero() && c.br.Buffered() < len(header) {
		if err := dl.SetReadDeadline(deadline); err == nil {
			// The deadline guards the header only; a started frame is read whole.
			_, err := c.br.Peek(1)
			_ = dl.SetReadDeadline(time.Time{})
			if err != nil {
				return nil, err
			}
		}
	}

	if _, err := io.ReadFull(c.br, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("ipc: incoming frame of %d bytes exceeds limit", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.br, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// Send encodes v with cd and writes it as one frame.
func (c *Conn) Send(cd codec.Codec, v any) error {
	data, err := cd.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T with %s: %w", v, cd.Name(), err)
	}
	return c.WriteFrame(data)
}

// Recv reads one frame and decodes it into v with cd.
func (c *Conn) Recv(cd codec.Codec, v any) error {
	data, err := c.ReadFrame()
	if err != nil {
		return err
	}
	return cd.Unmarshal(data, v)
}

// Files returns the underlying files, read side first, for handing to a
// child process. Sides that are not files are skipped.
func (c *Conn) Files() []*os.File {
	var files []*os.File
	if f, ok := c.r.(*os.File); ok {
		files = append(files, f)
	}
	if f, ok := c.w.(*os.File); ok && any(c.w) != any(c.r) {
		files = append(files, f)
	}
	return files
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close closes both sides. It is safe to call more than once.
func (c *Conn) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		close(c.closed)
		for _, cl := range c.closers {
			if err := cl.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// CloseWrite closes only the write side, signalling EOF to the peer.
func (c *Conn) CloseWrite() error {
	cl, ok := c.w.(io.Closer)
	if !ok {
		return nil
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return cl.Close()
}
