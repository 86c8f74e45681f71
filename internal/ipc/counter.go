package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	counterSize = 16
	unbounded   = -1
)

// counter is a file holding two little-endian int64 words: the current
// value at offset 0 and the upper bound at offset 8 (-1 when unbounded).
// Every access happens under an exclusive file lock on the same file.
type counter struct {
	mu   sync.Mutex
	file *os.File
}

func createCounter(path string, value, bound int64) (*counter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	c := &counter{file: f}
	if err := c.update(func(_, _ int64) (int64, int64, error) { return value, bound, nil }); err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

func openCounter(path string) (*counter, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open counter: %w", err)
	}
	return &counter{file: f}, nil
}

// update applies fn to the stored words atomically across processes.
func (c *counter) update(fn func(value, bound int64) (int64, int64, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := lockFile(c.file); err != nil {
		return err
	}
	defer func() { _ = unlockFile(c.file) }()

	value, bound, err := c.readLocked()
	if err != nil {
		return err
	}
	nv, nb, err := fn(value, bound)
	if err != nil {
		return err
	}
	if nv == value && nb == bound {
		return nil
	}
	return c.writeLocked(nv, nb)
}

func (c *counter) load() (value, bound int64, err error) {
	err = c.update(func(v, b int64) (int64, int64, error) {
		value, bound = v, b
		return v, b, nil
	})
	return value, bound, err
}

func (c *counter) readLocked() (int64, int64, error) {
	var buf [counterSize]byte
	n, err := c.file.ReadAt(buf[:], 0)
	if err != nil && err != io.EOF {
		return 0, 0, fmt.Errorf("read counter: %w", err)
	}
	if n == 0 {
		return 0, unbounded, nil
	}
	if n < counterSize {
		return 0, 0, fmt.Errorf("read counter %s: short file (%d bytes)", c.file.Name(), n)
	}
	return int64(binary.LittleEndian.Uint64(buf[:8])), int64(binary.LittleEndian.Uint64(buf[8:])), nil
}

func (c *counter) writeLocked(value, bound int64) error {
	var buf [counterSize]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(value))
	binary.LittleEndian.PutUint64(buf[8:], uint64(bound))
	if _, err := c.file.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("write counter: %w", err)
	}
	return nil
}

func (c *counter) close() error { return c.file.Close() }
