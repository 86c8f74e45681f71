package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/utkarsh5026/goloky/codec"
	"github.com/utkarsh5026/goloky/internal/ipc"
	"github.com/utkarsh5026/goloky/internal/wire"
)

const workerTarget = "goloky.worker"

// inChild stays set for the life of a child process. The target variable
// is cleared from the environment before the target runs, so it cannot
// be used to tell a child apart from a controller.
var inChild atomic.Bool

func init() {
	RegisterTarget(workerTarget, serveWorker)
}

// Init must be the first statement of main, and of TestMain in tests.
// In the controller it returns immediately. In a child process started by
// this package it runs the child's target and exits, never returning.
//
// The controller should call Cleanup before it exits to remove the
// namespace directory holding the files of shared primitives.
//
// setup functions run in the child before its target when the start
// method is MethodLokyInitMain or MethodSpawn; use them to register
// functions that are only known inside main.
//
// Example:
//
//	func main() {
//	    pool.Init()
//	    defer pool.Cleanup()
//	    exec, _ := pool.GetReusableExecutor(pool.WithMaxWorkers(4))
//	    ...
//	}
func Init(setup ...func()) {
	if os.Getenv(targetEnv) == "" {
		return
	}
	os.Exit(runChild(setup))
}

// IsChild reports whether the current process was started by a Context.
func IsChild() bool { return inChild.Load() || os.Getenv(targetEnv) != "" }

// controllerOnly refuses work that only the controller may do.
func controllerOnly() error {
	switch {
	case inChild.Load():
		return ErrInsideWorker
	case os.Getenv(targetEnv) != "":
		return ErrInitNotCalled
	}
	return nil
}

func runChild(setup []func()) int {
	inChild.Store(true)
	logger := childLogger()

	method := StartMethod(os.Getenv(startMethodEnv))
	if method.runsSetup() {
		for _, fn := range setup {
			fn()
		}
	}

	name := os.Getenv(targetEnv)
	target, ok := lookupTarget(name)
	if !ok {
		logger.Error("unknown process target", "target", name)
		return 2
	}

	// Children must not spawn children of their own by accident.
	_ = os.Unsetenv(targetEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := target(ctx, os.Args[1:]); err != nil {
		logger.Error("process target failed", "target", name, "error", err)
		return 1
	}
	return 0
}

func childLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})).
		With("component", "goloky-worker", "pid", os.Getpid())
}

// serveWorker is the loop of an executor worker. Tasks arrive on stdin
// and results leave on stdout, so user output is redirected to stderr.
func serveWorker(ctx context.Context, _ []string) error {
	in, out := os.Stdin, os.Stdout
	os.Stdout = os.Stderr

	logger := childLogger()
	ch := wire.NewChannel(ipc.NewConn(in, out))
	defer ch.Close()

	if err := ch.Send(&wire.Message{Kind: wire.KindReady, PID: os.Getpid()}); err != nil {
		return fmt.Errorf("announce worker: %w", err)
	}

	for {
		msg, err := ch.Recv()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// The executor is gone.
			return nil
		}
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Kind {
		case wire.KindInit:
			initErr := runInitializer(ctx, msg)
			if err := ch.Send(&wire.Message{Kind: wire.KindInitDone, Err: initErr}); err != nil {
				return err
			}
			if initErr != nil {
				return initErr
			}

		case wire.KindTask:
			reply := &wire.Message{
				Kind:     wire.KindResult,
				TaskID:   msg.TaskID,
				PID:      os.Getpid(),
				Outcomes: runTask(ctx, msg),
			}
			if err := ch.Send(reply); err != nil {
				return fmt.Errorf("send result of task %d: %w", msg.TaskID, err)
			}

		case wire.KindShutdown:
			return nil

		default:
			logger.Warn("ignoring unexpected message", "kind", msg.Kind)
		}
	}
}

func runInitializer(ctx context.Context, msg *wire.Message) *wire.RemoteError {
	reg, ok := lookupInitializer(msg.Func)
	if !ok {
		return wire.NewRemoteError(&UnknownFuncError{Name: msg.Func}, nil)
	}
	cd, err := codec.Lookup(msg.Codec)
	if err != nil {
		return wire.NewRemoteError(err, nil)
	}
	var payload []byte
	if len(msg.Payloads) > 0 {
		payload = msg.Payloads[0]
	}
	_, remote := callWithRecovery(ctx, reg.call, cd, payload)
	return remote
}

// runTask evaluates every payload of a task in order.
func runTask(ctx context.Context, msg *wire.Message) []wire.Outcome {
	outcomes := make([]wire.Outcome, len(msg.Payloads))

	fail := func(err error) []wire.Outcome {
		remote := wire.NewRemoteError(err, nil)
		for i := range outcomes {
			outcomes[i] = wire.Outcome{Err: remote}
		}
		return outcomes
	}

	reg, ok := lookupFunc(msg.Func)
	if !ok {
		return fail(&UnknownFuncError{Name: msg.Func})
	}
	cd, err := codec.Lookup(msg.Codec)
	if err != nil {
		return fail(err)
	}

	for i, payload := range msg.Payloads {
		value, remote := callWithRecovery(ctx, reg.call, cd, payload)
		outcomes[i] = wire.Outcome{Value: value, Err: remote}
	}
	return outcomes
}

// callWithRecovery runs one call, turning an error or a panic into a
// RemoteError so a single task cannot take the worker down.
func callWithRecovery(ctx context.Context, call invoker, cd codec.Codec, payload []byte) (value []byte, remote *wire.RemoteError) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			remote = &wire.RemoteError{
				Type:    "panic",
				Message: fmt.Sprintf("worker panic: %v", r),
				Stack:   string(buf[:n]),
			}
		}
	}()

	value, err := call(ctx, cd, payload)
	if err != nil {
		return nil, wire.NewRemoteError(err, nil)
	}
	return value, nil
}
