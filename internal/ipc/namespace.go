// Package ipc provides synchronization primitives and channels that work
// across process boundaries.
//
// Every named primitive is backed by a file inside a Namespace directory.
// Locks are advisory file locks, so the operating system releases them when
// the holding process dies. Semaphores keep their counter in a small file
// that is only read or written while its lock is held. A child process joins
// the same primitives by opening the namespace directory it inherited
// through the LOKY_IPC_DIR environment variable.
package ipc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utkarsh5026/goloky/internal/algorithms"
)

// DirEnv carries the namespace directory into child processes.
const DirEnv = "LOKY_IPC_DIR"

// Forever disables the timeout of a blocking acquire.
const Forever = algorithms.Forever

var (
	// ErrNotOwner is returned when releasing a lock the caller does not hold.
	ErrNotOwner = errors.New("ipc: lock released by a non-owner")

	// ErrSemaphoreOverflow is returned when a bounded semaphore is released
	// above its initial value.
	ErrSemaphoreOverflow = errors.New("ipc: semaphore released too many times")

	// ErrEmpty is returned by Queue.Get when the timeout elapses.
	ErrEmpty = errors.New("ipc: queue is empty")

	// ErrFull is returned by Queue.Put when no slot frees up in time.
	ErrFull = errors.New("ipc: queue is full")

	// ErrClosed is returned when using a closed connection or queue.
	ErrClosed = errors.New("ipc: use of closed connection")
)

// Namespace is the directory holding the files of named primitives.
type Namespace struct {
	dir   string
	owned bool
}

// NewNamespace creates a fresh namespace under the system temp directory.
// The creating process owns it and removes it on Close.
func NewNamespace() (*Namespace, error) {
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("loky-%d-%s", os.Getpid(), uuid.NewString()[:8]))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create ipc namespace: %w", err)
	}
	return &Namespace{dir: dir, owned: true}, nil
}

// OpenNamespace joins an existing namespace without taking ownership.
func OpenNamespace(dir string) (*Namespace, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open ipc namespace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open ipc namespace: %s is not a directory", dir)
	}
	return &Namespace{dir: dir}, nil
}

// InheritedNamespace opens the namespace named by DirEnv, if any.
func InheritedNamespace() (*Namespace, bool, error) {
	dir := os.Getenv(DirEnv)
	if dir == "" {
		return nil, false, nil
	}
	ns, err := OpenNamespace(dir)
	if err != nil {
		return nil, false, err
	}
	return ns, true, nil
}

// Dir returns the namespace directory.
func (n *Namespace) Dir() string { return n.dir }

// Env returns the environment entry a child needs to join the namespace.
func (n *Namespace) Env() string { return DirEnv + "=" + n.dir }

// NewName returns a unique primitive name with the given prefix.
func (n *Namespace) NewName(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func (n *Namespace) path(name, suffix string) string {
	return filepath.Join(n.dir, name+suffix)
}

// Close removes the namespace directory when this process created it.
func (n *Namespace) Close() error {
	if !n.owned {
		return nil
	}
	return os.RemoveAll(n.dir)
}

var defaultPoll = algorithms.NewBackoffStrategy(algorithms.BackoffJittered, time.Millisecond, 25*time.Millisecond, 0.2)
