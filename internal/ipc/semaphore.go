package ipc

import (
	"context"
	"fmt"
	"time"

	"github.com/utkarsh5026/goloky/internal/algorithms"
)

// Semaphore is a counting semaphore shared between processes.
type Semaphore struct {
	name string
	c    *counter
}

// NewSemaphore creates a semaphore with the given initial value.
func NewSemaphore(ns *Namespace, name string, value int) (*Semaphore, error) {
	return newSemaphore(ns, name, value, unbounded)
}

// OpenSemaphore opens a semaphore created in another process.
func OpenSemaphore(ns *Namespace, name string) (*Semaphore, error) {
	c, err := openCounter(ns.path(name, ".sem"))
	if err != nil {
		return nil, err
	}
	return &Semaphore{name: name, c: c}, nil
}

func newSemaphore(ns *Namespace, name string, value int, bound int64) (*Semaphore, error) {
	if value < 0 {
		return nil, fmt.Errorf("semaphore %q: negative initial value %d", name, value)
	}
	c, err := createCounter(ns.path(name, ".sem"), int64(value), bound)
	if err != nil {
		return nil, err
	}
	return &Semaphore{name: name, c: c}, nil
}

// Name identifies the semaphore within its namespace.
func (s *Semaphore) Name() string { return s.name }

// Acquire decrements the counter, waiting up to timeout for it to become
// positive. Forever waits indefinitely and zero tries once.
func (s *Semaphore) Acquire(timeout time.Duration) (bool, error) {
	return s.AcquireContext(context.Background(), timeout)
}

// AcquireContext is Acquire with cancellation.
func (s *Semaphore) AcquireContext(ctx context.Context, timeout time.Duration) (bool, error) {
	return algorithms.Poll(ctx, defaultPoll, timeout, s.tryAcquire)
}

func (s *Semaphore) tryAcquire() (bool, error) {
	var got bool
	err := s.c.update(func(value, bound int64) (int64, int64, error) {
		if value <= 0 {
			return value, bound, nil
		}
		got = true
		return value - 1, bound, nil
	})
	return got, err
}

// Release increments the counter. A bounded semaphore refuses to go past
// its max and returns ErrSemaphoreOverflow.
func (s *Semaphore) Release() error {
	return s.c.update(func(value, bound int64) (int64, int64, error) {
		if bound != unbounded && value >= bound {
			return value, bound, ErrSemaphoreOverflow
		}
		return value + 1, bound, nil
	})
}

// Value returns the current counter.
func (s *Semaphore) Value() (int, error) {
	v, _, err := s.c.load()
	return int(v), err
}

// Close closes the handle. The counter file lives on in the namespace.
func (s *Semaphore) Close() error { return s.c.close() }

// BoundedSemaphore is a Semaphore whose value may never exceed max.
type BoundedSemaphore struct {
	*Semaphore
}

// NewBoundedSemaphore creates a semaphore starting at value and bounded
// by max.
func NewBoundedSemaphore(ns *Namespace, name string, value, max int) (*BoundedSemaphore, error) {
	if max <= 0 {
		return nil, fmt.Errorf("bounded semaphore %q: max must be positive, got %d", name, max)
	}
	if value > max {
		return nil, fmt.Errorf("bounded semaphore %q: initial value %d exceeds max %d", name, value, max)
	}
	s, err := newSemaphore(ns, name, value, int64(max))
	if err != nil {
		return nil, err
	}
	return &BoundedSemaphore{Semaphore: s}, nil
}

// OpenBoundedSemaphore opens a bounded semaphore created elsewhere.
func OpenBoundedSemaphore(ns *Namespace, name string) (*BoundedSemaphore, error) {
	s, err := OpenSemaphore(ns, name)
	if err != nil {
		return nil, err
	}
	return &BoundedSemaphore{Semaphore: s}, nil
}

// Max returns the bound.
func (b *BoundedSemaphore) Max() (int, error) {
	_, bound, err := b.c.load()
	return int(bound), err
}
