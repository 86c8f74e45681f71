package ipc

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/utkarsh5026/goloky/codec"
)

// QueueHandle names the shared state of a Queue so another process can
// join it with OpenQueue. The pipe ends travel separately as inherited
// files.
type QueueHandle struct {
	ReadLock  string
	WriteLock string
	Slots     string
	Codec     string
}

// Queue is a FIFO shared between processes. Items travel through a pipe;
// readers and writers are serialized by their own locks, and a bounded
// semaphore caps the number of items in flight when maxsize is positive.
type Queue struct {
	reader *Conn
	writer *Conn
	rlock  *Lock
	wlock  *Lock
	slots  *BoundedSemaphore
	codec  codec.Codec
	handle QueueHandle
}

// NewQueue creates a queue in ns. maxsize <= 0 means unbounded, in which
// case Put only blocks when the pipe buffer is full.
func NewQueue(ns *Namespace, maxsize int, cd codec.Codec) (*Queue, error) {
	reader, writer, err := Pipe(false)
	if err != nil {
		return nil, err
	}

	q := &Queue{reader: reader, writer: writer, codec: cd}
	q.handle = QueueHandle{
		ReadLock:  ns.NewName("queue-r"),
		WriteLock: ns.NewName("queue-w"),
		Codec:     cd.Name(),
	}
	if q.rlock, err = NewLock(ns, q.handle.ReadLock); err != nil {
		_ = q.Close()
		return nil, err
	}
	if q.wlock, err = NewLock(ns, q.handle.WriteLock); err != nil {
		_ = q.Close()
		return nil, err
	}
	if maxsize > 0 {
		q.handle.Slots = ns.NewName("queue-slots")
		if q.slots, err = NewBoundedSemaphore(ns, q.handle.Slots, maxsize, maxsize); err != nil {
			_ = q.Close()
			return nil, err
		}
	}
	return q, nil
}

// OpenQueue joins a queue from its handle and the inherited pipe ends.
func OpenQueue(ns *Namespace, h QueueHandle, r, w *os.File) (*Queue, error) {
	cd, err := codec.Lookup(h.Codec)
	if err != nil {
		return nil, err
	}

	q := &Queue{reader: NewConn(r, nil), writer: NewConn(nil, w), codec: cd, handle: h}
	if q.rlock, err = OpenLock(ns, h.ReadLock); err != nil {
		return nil, err
	}
	if q.wlock, err = OpenLock(ns, h.WriteLock); err != nil {
		return nil, err
	}
	if h.Slots != "" {
		if q.slots, err = OpenBoundedSemaphore(ns, h.Slots); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Handle describes the queue for OpenQueue.
func (q *Queue) Handle() QueueHandle { return q.handle }

// Files returns the pipe ends, reader first, to pass to a child process.
func (q *Queue) Files() (r, w *os.File) {
	if fs := q.reader.Files(); len(fs) > 0 {
		r = fs[0]
	}
	if fs := q.writer.Files(); len(fs) > 0 {
		w = fs[0]
	}
	return r, w
}

// Put appends v, waiting up to timeout for a free slot. It returns ErrFull
// when the queue stays full.
func (q *Queue) Put(v any, timeout time.Duration) error {
	data, err := q.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue put: encode %T: %w", v, err)
	}

	if q.slots != nil {
		ok, err := q.slots.Acquire(timeout)
		if err != nil {
			return err
		}
		if !ok {
			return ErrFull
		}
	}

	if _, err := q.wlock.Acquire(Forever); err != nil {
		return err
	}
	defer func() { _ = q.wlock.Release() }()
	return q.writer.WriteFrame(data)
}

// Get removes the oldest item into v, waiting up to timeout. It returns
// ErrEmpty when nothing arrives in time.
func (q *Queue) Get(v any, timeout time.Duration) error {
	start := time.Now()
	ok, err := q.rlock.Acquire(timeout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrEmpty
	}
	defer func() { _ = q.rlock.Release() }()

	remaining := timeout
	if timeout > 0 {
		remaining = max(timeout-time.Since(start), 0)
	}

	data, err := q.reader.ReadFrameTimeout(remaining)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrEmpty
	}
	if err != nil {
		return err
	}

	if q.slots != nil {
		if err := q.slots.Release(); err != nil {
			return err
		}
	}
	return q.codec.Unmarshal(data, v)
}

// Close closes the local handles. Other processes keep their own.
func (q *Queue) Close() error {
	errs := []error{q.reader.Close(), q.writer.Close()}
	if q.rlock != nil {
		errs = append(errs, q.rlock.Close())
	}
	if q.wlock != nil {
		errs = append(errs, q.wlock.Close())
	}
	if q.slots != nil {
		errs = append(errs, q.slots.Close())
	}
	return errors.Join(errs...)
}

// SimpleQueue is an unbounded Queue whose operations always block.
type SimpleQueue struct {
	q *Queue
}

// NewSimpleQueue creates an unbounded blocking queue.
func NewSimpleQueue(ns *Namespace, cd codec.Codec) (*SimpleQueue, error) {
	q, err := NewQueue(ns, 0, cd)
	if err != nil {
		return nil, err
	}
	return &SimpleQueue{q: q}, nil
}

// Put appends v.
func (s *SimpleQueue) Put(v any) error { return s.q.Put(v, Forever) }

// Get removes the oldest item into v.
func (s *SimpleQueue) Get(v any) error { return s.q.Get(v, Forever) }

// Close closes the queue.
func (s *SimpleQueue) Close() error { return s.q.Close() }
