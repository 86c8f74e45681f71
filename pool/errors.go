package pool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/utkarsh5026/goloky/internal/cpu"
	"github.com/utkarsh5026/goloky/internal/types"
	"github.com/utkarsh5026/goloky/internal/wire"
)

var (
	// ErrExecutorShutdown is returned when submitting to an executor that
	// is shutting down or already shut down.
	ErrExecutorShutdown = errors.New("cannot submit to an executor that has been shut down")

	// ErrBrokenPool marks failures caused by a worker process dying or the
	// executor giving up on its workers. Use errors.Is to detect it.
	ErrBrokenPool = errors.New("process pool is broken")

	// ErrContextAlreadySet is returned by SetStartMethod when a start
	// method was registered before and force is false.
	ErrContextAlreadySet = errors.New("start method has already been set")

	// ErrUnknownFunc marks a task whose function name is not registered in
	// the worker.
	ErrUnknownFunc = errors.New("function is not registered")

	// ErrInitNotCalled is returned when a worker child process tries to
	// create an executor, which happens when main does not call Init.
	ErrInitNotCalled = errors.New("pool.Init was not called at the start of main")

	// ErrInsideWorker is returned when code running in a worker process
	// tries to create an executor. Workers never start workers.
	ErrInsideWorker = errors.New("cannot create an executor inside a worker process")

	// ErrCancelled is the error of a cancelled Future.
	ErrCancelled = types.ErrCancelled

	// ErrTimeout is returned when waiting on a Future or Map times out.
	ErrTimeout = types.ErrTimeout

	// ErrInvalidState is returned when completing a Future twice.
	ErrInvalidState = types.ErrInvalidState
)

// EnvError reports an unusable environment variable value such as an
// invalid LOKY_MAX_CPU_COUNT.
type EnvError = cpu.EnvError

// RemoteError is an error raised inside a worker process.
type RemoteError = wire.RemoteError

// StartMethodError reports an unsupported start method.
type StartMethodError struct {
	Method StartMethod
	Valid  []StartMethod
}

func (e *StartMethodError) Error() string {
	valid := make([]string, len(e.Valid))
	for i, m := range e.Valid {
		valid[i] = string(m)
	}
	return fmt.Sprintf("start method %q is not supported; valid methods are %s", e.Method, strings.Join(valid, ", "))
}

// UnknownFuncError names the function a worker could not find.
type UnknownFuncError struct {
	Name string
}

func (e *UnknownFuncError) Error() string {
	return fmt.Sprintf("function %q is not registered; register it with pool.Register at package init", e.Name)
}

func (e *UnknownFuncError) Is(target error) bool { return target == ErrUnknownFunc }

// TaskError is delivered through a Future when the function returned an
// error or panicked inside the worker.
type TaskError struct {
	Func   string
	TaskID uint64
	Remote *RemoteError
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d (%s) failed: %v", e.TaskID, e.Func, e.Remote)
}

func (e *TaskError) Unwrap() error { return e.Remote }

// BrokenPoolError describes why a task could not complete because of a
// worker process failure.
type BrokenPoolError struct {
	Reason   string
	PID      int
	ExitCode int
	TaskID   uint64
	Err      error
}

func (e *BrokenPoolError) Error() string {
	var b strings.Builder
	b.WriteString("process pool is broken: ")
	b.WriteString(e.Reason)
	if e.PID > 0 {
		fmt.Fprintf(&b, " (pid %d", e.PID)
		if e.ExitCode != 0 {
			fmt.Fprintf(&b, ", exit code %d", e.ExitCode)
		}
		b.WriteString(")")
	}
	if e.TaskID > 0 {
		fmt.Fprintf(&b, " while running task %d", e.TaskID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *BrokenPoolError) Unwrap() error { return e.Err }

func (e *BrokenPoolError) Is(target error) bool { return target == ErrBrokenPool }
