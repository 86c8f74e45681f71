package pool

import (
	"context"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var reusable struct {
	sync.Mutex
	exec *Executor

	// full covers every reuse-relevant setting; shape leaves out max
	// workers, which can change without replacing the executor.
	full  uint64
	shape uint64
}

// GetReusableExecutor returns the process-wide shared executor, creating
// it on first use.
//
// A live executor created with the same settings is returned as is. If
// only WithMaxWorkers differs it is resized in place. Any other change,
// or an executor that is broken or shut down, replaces it: the old one is
// shut down, waiting for its workers, and a new one is created.
//
// Settings that do not affect the workers, such as the logger, the clock
// and the queue size, are taken from the call that created the executor.
//
// Example:
//
//	exec, err := pool.GetReusableExecutor(pool.WithMaxWorkers(4))
//	if err != nil {
//	    return err
//	}
//	fut, err := pool.Submit(ctx, exec, square, 3)
func GetReusableExecutor(opts ...Option) (*Executor, error) {
	if err := controllerOnly(); err != nil {
		return nil, err
	}

	cfg, err := createConfig(opts...)
	if err != nil {
		return nil, err
	}
	full, shape, err := fingerprint(cfg)
	if err != nil {
		return nil, err
	}

	reusable.Lock()
	defer reusable.Unlock()

	if old := reusable.exec; old != nil {
		if old.reusable() {
			if reusable.full == full {
				return old, nil
			}
			if reusable.shape == shape {
				if err := old.Resize(cfg.maxWorkers); err == nil {
					reusable.full = full
					return old, nil
				}
			}
		}

		old.logger.Info("replacing reusable executor")
		_ = old.Shutdown(context.Background(), ShutdownOptions{Wait: true})
		reusable.exec = nil
	}

	exec, err := newExecutor(cfg)
	if err != nil {
		return nil, err
	}
	reusable.exec = exec
	reusable.full = full
	reusable.shape = shape
	return exec, nil
}

// reusable reports whether the executor can still serve new tasks.
func (e *Executor) reusable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.brokenErr == nil && (e.state == StateCreated || e.state == StateRunning)
}

func fingerprint(cfg *executorConfig) (full, shape uint64, err error) {
	h := xxhash.New()
	field := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}

	field(string(cfg.method))
	field(cfg.codecName)
	field(cfg.idleTimeout.String())
	field(cfg.initName)
	if cfg.initName != "" {
		codecName, payload, err := cfg.encodedInitArg()
		if err != nil {
			return 0, 0, err
		}
		field(codecName)
		_, _ = h.Write(payload)
	}
	shape = h.Sum64()

	field(strconv.Itoa(cfg.maxWorkers))
	full = h.Sum64()
	return full, shape, nil
}
