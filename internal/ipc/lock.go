package ipc

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/utkarsh5026/goloky/internal/algorithms"
)

// ConditionLock is implemented by Lock and RLock, the locks a Condition
// can be bound to.
type ConditionLock interface {
	AcquireContext(ctx context.Context, timeout time.Duration) (bool, error)
	Release() error
	Owned() bool

	// releaseAll gives up every level of ownership and reports how many
	// levels were held so reacquire can restore them.
	releaseAll() (int, error)
	reacquire(ctx context.Context, depth int) error
}

// Lock is a non-reentrant mutex shared between processes.
//
// Ownership belongs to the handle: goroutines sharing one handle exclude
// each other, and so do handles opened in other processes.
type Lock struct {
	name  string
	file  *os.File
	token chan struct{}

	mu   sync.Mutex
	held bool
}

// NewLock creates a lock file in ns and opens a handle on it.
func NewLock(ns *Namespace, name string) (*Lock, error) {
	return openLock(ns, name, os.O_CREATE)
}

// OpenLock opens another handle on a lock created by NewLock.
func OpenLock(ns *Namespace, name string) (*Lock, error) {
	return openLock(ns, name, 0)
}

func openLock(ns *Namespace, name string, flag int) (*Lock, error) {
	f, err := os.OpenFile(ns.path(name, ".lock"), os.O_RDWR|flag, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock %q: %w", name, err)
	}
	return &Lock{name: name, file: f, token: make(chan struct{}, 1)}, nil
}

// Name identifies the lock within its namespace.
func (l *Lock) Name() string { return l.name }

// Acquire waits up to timeout for the lock. Forever waits indefinitely and
// zero tries once. It reports whether the lock was obtained.
func (l *Lock) Acquire(timeout time.Duration) (bool, error) {
	return l.AcquireContext(context.Background(), timeout)
}

// AcquireContext is Acquire with cancellation.
func (l *Lock) AcquireContext(ctx context.Context, timeout time.Duration) (bool, error) {
	start := time.Now()
	if !l.takeToken(ctx, timeout) {
		return false, ctx.Err()
	}

	remaining := timeout
	if timeout > 0 {
		remaining = max(timeout-time.Since(start), 0)
	}

	ok, err := algorithms.Poll(ctx, defaultPoll, remaining, func() (bool, error) {
		return tryLockFile(l.file)
	})
	if err != nil || !ok {
		<-l.token
		return false, err
	}

	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
	return true, nil
}

// takeToken claims in-process ownership of the handle.
func (l *Lock) takeToken(ctx context.Context, timeout time.Duration) bool {
	select {
	case l.token <- struct{}{}:
		return true
	default:
	}
	if timeout == 0 {
		return false
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case l.token <- struct{}{}:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release unlocks. Releasing an unheld lock returns ErrNotOwner.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return ErrNotOwner
	}
	if err := unlockFile(l.file); err != nil {
		return err
	}
	l.held = false
	<-l.token
	return nil
}

// Owned reports whether this handle currently holds the lock.
func (l *Lock) Owned() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Lock) releaseAll() (int, error) {
	if err := l.Release(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (l *Lock) reacquire(ctx context.Context, _ int) error {
	_, err := l.AcquireContext(ctx, Forever)
	return err
}

// Close releases the handle. A held lock is released first.
func (l *Lock) Close() error {
	if l.Owned() {
		_ = l.Release()
	}
	return l.file.Close()
}

// RLock is a reentrant lock shared between processes. A handle is one
// owner: it may acquire repeatedly and must release as many times.
type RLock struct {
	name string
	file *os.File

	mu    sync.Mutex
	depth int
}

// NewRLock creates a reentrant lock file in ns and opens a handle on it.
func NewRLock(ns *Namespace, name string) (*RLock, error) {
	return openRLock(ns, name, os.O_CREATE)
}

// OpenRLock opens another handle, that is another owner, on an RLock.
func OpenRLock(ns *Namespace, name string) (*RLock, error) {
	return openRLock(ns, name, 0)
}

func openRLock(ns *Namespace, name string, flag int) (*RLock, error) {
	f, err := os.OpenFile(ns.path(name, ".lock"), os.O_RDWR|flag, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open rlock %q: %w", name, err)
	}
	return &RLock{name: name, file: f}, nil
}

// Name identifies the lock within its namespace.
func (r *RLock) Name() string { return r.name }

// Acquire behaves like Lock.Acquire but succeeds immediately when this
// handle already owns the lock.
func (r *RLock) Acquire(timeout time.Duration) (bool, error) {
	return r.AcquireContext(context.Background(), timeout)
}

// AcquireContext is Acquire with cancellation.
func (r *RLock) AcquireContext(ctx context.Context, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.depth > 0 {
		r.depth++
		return true, nil
	}

	ok, err := algorithms.Poll(ctx, defaultPoll, timeout, func() (bool, error) {
		return tryLockFile(r.file)
	})
	if err != nil || !ok {
		return false, err
	}
	r.depth = 1
	return true, nil
}

// Release drops one level of ownership and unlocks at depth zero.
func (r *RLock) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.depth == 0 {
		return ErrNotOwner
	}
	if r.depth == 1 {
		if err := unlockFile(r.file); err != nil {
			return err
		}
	}
	r.depth--
	return nil
}

// Owned reports whether this handle holds the lock.
func (r *RLock) Owned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depth > 0
}

// Depth returns how many times the handle has acquired without releasing.
func (r *RLock) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depth
}

func (r *RLock) releaseAll() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.depth == 0 {
		return 0, ErrNotOwner
	}
	if err := unlockFile(r.file); err != nil {
		return 0, err
	}
	depth := r.depth
	r.depth = 0
	return depth, nil
}

func (r *RLock) reacquire(ctx context.Context, depth int) error {
	if _, err := r.AcquireContext(ctx, Forever); err != nil {
		return err
	}
	r.mu.Lock()
	r.depth = depth
	r.mu.Unlock()
	return nil
}

// Close unlocks if needed and closes the handle.
func (r *RLock) Close() error {
	r.mu.Lock()
	if r.depth > 0 {
		_ = unlockFile(r.file)
		r.depth = 0
	}
	r.mu.Unlock()
	return r.file.Close()
}
