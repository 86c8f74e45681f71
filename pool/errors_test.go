package pool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrokenPoolError(t *testing.T) {
	cause := errors.New("pipe closed")

	tests := []struct {
		name string
		err  *BrokenPoolError
		want string
	}{
		{
			name: "reason only",
			err:  &BrokenPoolError{Reason: "workers keep crashing"},
			want: "process pool is broken: workers keep crashing",
		},
		{
			name: "with process and task",
			err:  &BrokenPoolError{Reason: "worker died while running the task", PID: 42, ExitCode: 3, TaskID: 7},
			want: "process pool is broken: worker died while running the task (pid 42, exit code 3) while running task 7",
		},
		{
			name: "with cause",
			err:  &BrokenPoolError{Reason: "worker failed to start", PID: 9, Err: cause},
			want: "process pool is broken: worker failed to start (pid 9): pipe closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, ErrBrokenPool)
			assert.ErrorIs(t, fmt.Errorf("wrapped: %w", tt.err), ErrBrokenPool)
		})
	}

	assert.ErrorIs(t, &BrokenPoolError{Err: cause}, cause)
}

func TestTaskError(t *testing.T) {
	remote := &RemoteError{Type: "*fs.PathError", Message: "open x: no such file"}
	err := &TaskError{Func: "load", TaskID: 4, Remote: remote}

	assert.Equal(t, "task 4 (load) failed: *fs.PathError: open x: no such file", err.Error())

	var got *RemoteError
	assert.ErrorAs(t, err, &got)
	assert.Same(t, remote, got)
}

func TestUnknownFuncError(t *testing.T) {
	err := &UnknownFuncError{Name: "resize"}
	assert.ErrorIs(t, err, ErrUnknownFunc)
	assert.Contains(t, err.Error(), `"resize"`)
}

func TestStartMethodError(t *testing.T) {
	err := &StartMethodError{Method: "fork", Valid: ValidStartMethods()}
	assert.Equal(t, `start method "fork" is not supported; valid methods are loky, loky_init_main, spawn`, err.Error())
}
