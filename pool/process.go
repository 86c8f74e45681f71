package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Environment variables describing a child process to Init.
const (
	targetEnv      = "GOLOKY_TARGET"
	startMethodEnv = "GOLOKY_START_METHOD"
)

// TargetFunc is the body of a child process started by Context.Process.
// It receives the ProcessSpec arguments. Returning an error exits the
// child with status 1.
type TargetFunc func(ctx context.Context, args []string) error

// RegisterTarget makes fn available as a Process target. Like Register,
// it must run in every process, typically from an init function.
func RegisterTarget(name string, fn TargetFunc) {
	if name == "" {
		panic("pool: target name must not be empty")
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.targets[name]; dup {
		panic(fmt.Sprintf("pool: target %q registered twice", name))
	}
	registry.targets[name] = fn
}

func lookupTarget(name string) (TargetFunc, bool) {
	registry.RLock()
	defer registry.RUnlock()
	fn, ok := registry.targets[name]
	return fn, ok
}

// ProcessSpec describes a child process.
type ProcessSpec struct {
	// Target names a function registered with RegisterTarget.
	Target string

	// Args are passed to the target.
	Args []string

	// Env holds extra KEY=VALUE entries on top of the parent environment.
	Env []string

	// ExtraFiles are inherited by the child as descriptors 3, 4, ... on
	// Unix. Use InheritedFile to reach them.
	ExtraFiles []*os.File

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Process is a child process running a registered target in a fresh copy
// of the current program.
type Process struct {
	spec   ProcessSpec
	method StartMethod
	cmd    *exec.Cmd

	done     chan struct{}
	waitOnce sync.Once
	waitErr  error
	exitCode int
}

// Process prepares a child process in the context's namespace. Call
// Start to launch it.
func (c *Context) Process(spec ProcessSpec) (*Process, error) {
	if spec.Target == "" {
		return nil, errors.New("pool: process spec has no target")
	}
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	// Children join the controller's namespace so primitives can be
	// opened by name on both sides.
	spec.Env = append([]string{ns.Env()}, spec.Env...)
	return &Process{spec: spec, method: c.method, done: make(chan struct{})}, nil
}

// Start launches the child.
func (p *Process) Start() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	env := append(os.Environ(),
		targetEnv+"="+p.spec.Target,
		startMethodEnv+"="+string(p.method),
	)
	env = append(env, p.spec.Env...)

	cmd := exec.Command(exe, p.spec.Args...)
	cmd.Env = env
	cmd.ExtraFiles = p.spec.ExtraFiles
	cmd.Stdin = p.spec.Stdin
	cmd.Stdout = p.spec.Stdout
	cmd.Stderr = p.spec.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s process: %w", p.spec.Target, err)
	}
	p.cmd = cmd
	go p.reap()
	return nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.waitOnce.Do(func() {
		p.waitErr = err
		if p.cmd.ProcessState != nil {
			p.exitCode = p.cmd.ProcessState.ExitCode()
		}
		close(p.done)
	})
}

// Pid returns the child's process id, or 0 before Start.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the child exits or ctx ends.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode returns the exit status once the child has exited, -1 when it
// was killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return 0
	}
}

// Alive reports whether the child was started and has not exited yet.
func (p *Process) Alive() bool {
	if p.cmd == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Kill terminates the child immediately.
func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// InheritedFile returns the i-th entry of ProcessSpec.ExtraFiles inside
// the child.
func InheritedFile(i int, name string) *os.File {
	return os.NewFile(uintptr(3+i), name)
}
