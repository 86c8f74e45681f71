// Package pool runs Go functions in a reusable pool of worker processes.
//
// Workers are fresh copies of the running program, started on demand,
// kept alive across calls and stopped after sitting idle. A worker that
// crashes fails only the task it was running; the executor replaces it
// and keeps going until crashes exceed its budget.
//
// Because a worker is a separate process, functions cannot be sent to it.
// They are registered by name in every process, and tasks carry the name
// plus an encoded argument.
//
// # Basic Usage
//
//	var square = pool.Register("square", func(ctx context.Context, n int) (int, error) {
//	    return n * n, nil
//	})
//
//	func main() {
//	    pool.Init() // must come first: worker processes stop here
//	    defer pool.Cleanup() // removes the namespace directory
//
//	    exec, err := pool.GetReusableExecutor(pool.WithMaxWorkers(4))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fut, err := pool.Submit(context.Background(), exec, square, 7)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    n, err := fut.Get() // 49
//	}
//
// # Mapping
//
// Map submits one task per chunk of inputs and yields results in input
// order:
//
//	results, err := pool.Map(ctx, exec, square, slices.Values(inputs),
//	    pool.WithChunkSize(16),
//	    pool.WithMapTimeout(time.Minute),
//	)
//	for n, err := range results {
//	    // handle n or err
//	}
//
// # Reuse
//
// GetReusableExecutor returns the same executor as long as it is healthy
// and the settings match. Asking for a different worker count resizes it
// in place; other changes replace it.
//
// # Start Methods
//
//   - MethodLoky: workers run only Init and their target (default)
//   - MethodLokyInitMain: workers also run the setup functions passed to Init
//   - MethodSpawn: same as MethodLokyInitMain
//
// # Errors
//
//   - *TaskError: the function returned an error or panicked in the worker
//   - *BrokenPoolError: the worker died, or the executor is broken (errors.Is ErrBrokenPool)
//   - ErrExecutorShutdown: submitting after Shutdown
//   - ErrCancelled: the Future was cancelled before it started
//
// # Configuration Options
//
//   - WithMaxWorkers(n): worker cap (default: CPUCount(false))
//   - WithStartMethod(m): how workers are started
//   - WithIdleTimeout(d): idle worker lifetime (default: 300s)
//   - WithQueueSize(n): tasks waiting for a worker before Submit blocks
//   - WithCodec(name): argument and result encoding (default: gob, or LOKY_CODEC)
//   - WithInitializer(init, arg): per-worker setup
//   - WithCrashBudget(burst, window): tolerated crashes before breaking
//   - WithLogger, WithClock, WithMetricsRegisterer, WithWorkerStderr
//
// LoadConfig reads the same settings from YAML and LOKY_* variables.
//
// # Synchronization
//
// A Context hands out locks, semaphores, conditions, events and queues
// that work across the controller and its workers. Workers inherit the
// controller's namespace, so a name created in one process can be opened
// in another.
package pool
