package types

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// State is the lifecycle position of a Future.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCancelled
	StateFinished
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StateCancelled:
		return "CANCELLED"
	case StateFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrCancelled is the error of a cancelled future.
	ErrCancelled = errors.New("future was cancelled")

	// ErrTimeout is returned when a wait on a future times out. The future
	// itself is unaffected.
	ErrTimeout = errors.New("timed out waiting for future")

	// ErrInvalidState is returned when completing a future twice.
	ErrInvalidState = errors.New("future is already completed")
)

// CallbackError records a done-callback that failed or panicked.
type CallbackError struct {
	Index int
	Err   error
	Panic any
	Stack []byte
}

func (e *CallbackError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("done callback %d panicked: %v", e.Index, e.Panic)
	}
	return fmt.Sprintf("done callback %d failed: %v", e.Index, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Future is the eventual outcome of a submitted task.
//
// A future starts PENDING, may be claimed RUNNING by whoever executes it,
// and ends either FINISHED with a value or an error, or CANCELLED. Done
// callbacks run exactly once, in registration order, after the terminal
// transition.
type Future[R any] struct {
	mu        sync.Mutex
	state     State
	value     R
	err       error
	done      chan struct{}
	callbacks []func(*Future[R]) error
	ran       int
	failures  []error
	logger    *slog.Logger
}

// NewFuture creates a pending future.
func NewFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{}), logger: slog.Default()}
}

// SetLogger sets where callback failures are reported. Call it before
// the future is shared.
func (f *Future[R]) SetLogger(l *slog.Logger) {
	if l != nil {
		f.logger = l
	}
}

// Get blocks until the future completes and returns its outcome. A
// cancelled future returns ErrCancelled.
func (f *Future[R]) Get() (R, error) {
	<-f.done
	return f.outcome()
}

// GetWithTimeout is Get bounded by timeout. It returns ErrTimeout if the
// future is still incomplete when the timeout elapses.
func (f *Future[R]) GetWithTimeout(timeout time.Duration) (R, error) {
	if timeout < 0 {
		return f.Get()
	}

	// A completed future wins over an already expired timer.
	select {
	case <-f.done:
		return f.outcome()
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.outcome()
	case <-timer.C:
		var zero R
		return zero, ErrTimeout
	}
}

// GetWithContext is Get bounded by ctx.
func (f *Future[R]) GetWithContext(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.outcome()
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// TryGet returns the outcome without blocking; ready is false while the
// future is incomplete.
func (f *Future[R]) TryGet() (value R, err error, ready bool) {
	select {
	case <-f.done:
		value, err = f.outcome()
		return value, err, true
	default:
		return value, nil, false
	}
}

// Err blocks until completion and returns the error, if any.
func (f *Future[R]) Err() error {
	_, err := f.Get()
	return err
}

func (f *Future[R]) outcome() (R, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Done returns a channel closed once the future reaches a terminal state.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// State returns the current state.
func (f *Future[R]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsDone reports whether the future is FINISHED or CANCELLED.
func (f *Future[R]) IsDone() bool {
	s := f.State()
	return s == StateFinished || s == StateCancelled
}

// Running reports whether the future has been claimed for execution.
func (f *Future[R]) Running() bool { return f.State() == StateRunning }

// Cancelled reports whether the future was cancelled.
func (f *Future[R]) Cancelled() bool { return f.State() == StateCancelled }

// Cancel cancels a pending future. It returns false once the future is
// running or finished, and true if it is (or already was) cancelled.
func (f *Future[R]) Cancel() bool {
	f.mu.Lock()
	switch f.state {
	case StateCancelled:
		f.mu.Unlock()
		return true
	case StateRunning, StateFinished:
		f.mu.Unlock()
		return false
	}
	f.state = StateCancelled
	f.err = ErrCancelled
	callbacks := f.finishLocked()
	f.mu.Unlock()

	f.invoke(callbacks)
	return true
}

// SetRunningOrNotifyCancel claims a pending future for execution. It
// returns false if the future was cancelled first, in which case the
// caller must skip the task.
func (f *Future[R]) SetRunningOrNotifyCancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StatePending {
		return false
	}
	f.state = StateRunning
	return true
}

// SetResult completes the future with a value.
func (f *Future[R]) SetResult(v R) error { return f.complete(v, nil) }

// SetError completes the future with an error.
func (f *Future[R]) SetError(err error) error {
	var zero R
	if err == nil {
		err = errors.New("future completed with a nil error")
	}
	return f.complete(zero, err)
}

func (f *Future[R]) complete(v R, err error) error {
	f.mu.Lock()
	if f.state == StateFinished || f.state == StateCancelled {
		f.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrInvalidState, f.state)
	}
	f.state = StateFinished
	f.value, f.err = v, err
	callbacks := f.finishLocked()
	f.mu.Unlock()

	f.invoke(callbacks)
	return nil
}

func (f *Future[R]) finishLocked() []func(*Future[R]) error {
	close(f.done)
	callbacks := f.callbacks
	f.callbacks = nil
	return callbacks
}

// AddDoneCallback registers fn to run once the future completes. If it
// already has, fn runs immediately on the calling goroutine. A callback
// that fails or panics does not prevent the others from running; the
// failure is logged and kept for CallbackErrors.
func (f *Future[R]) AddDoneCallback(fn func(*Future[R]) error) {
	f.mu.Lock()
	if f.state != StateFinished && f.state != StateCancelled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.invoke([]func(*Future[R]) error{fn})
}

// CallbackErrors returns the failures of callbacks that have run so far.
func (f *Future[R]) CallbackErrors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.failures...)
}

func (f *Future[R]) invoke(callbacks []func(*Future[R]) error) {
	for _, fn := range callbacks {
		f.mu.Lock()
		index := f.ran
		f.ran++
		f.mu.Unlock()

		if cbErr := f.runCallback(index, fn); cbErr != nil {
			f.logger.Error("future done callback failed", "error", cbErr)
			f.mu.Lock()
			f.failures = append(f.failures, cbErr)
			f.mu.Unlock()
		}
	}
}

func (f *Future[R]) runCallback(index int, fn func(*Future[R]) error) (cbErr *CallbackError) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			cbErr = &CallbackError{Index: index, Panic: r, Stack: buf[:n]}
		}
	}()

	if err := fn(f); err != nil {
		return &CallbackError{Index: index, Err: err}
	}
	return nil
}
