package pool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/utkarsh5026/goloky/codec"
	"github.com/utkarsh5026/goloky/internal/types"
	"github.com/utkarsh5026/goloky/internal/wire"
)

// Submit schedules fn(arg) on a worker process and returns a Future for
// its result. It blocks while the executor's queue is full, until ctx
// ends. Submitting to an executor that is shut down returns
// ErrExecutorShutdown; a broken one returns an error matching
// ErrBrokenPool.
//
// Example:
//
//	fut, err := pool.Submit(ctx, exec, square, 7)
//	if err != nil {
//	    return err
//	}
//	n, err := fut.Get() // 49
func Submit[A, R any](ctx context.Context, e *Executor, fn Func[A, R], arg A) (*Future[R], error) {
	cd, err := e.codecFor(fn.codec)
	if err != nil {
		return nil, err
	}
	payload, err := cd.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("encode argument of %s with %s: %w", fn.name, cd.Name(), err)
	}

	item := &workItem{fn: fn.name, codec: cd.Name(), payloads: [][]byte{payload}}
	fut := bindFuture(e, item, func(outcomes []wire.Outcome) (R, error) {
		if len(outcomes) != 1 {
			var zero R
			return zero, fmt.Errorf("task %d returned %d results, want 1", item.id, len(outcomes))
		}
		return decodeOutcome[R](cd, item, outcomes[0])
	})

	if err := e.enqueue(ctx, item); err != nil {
		return nil, err
	}
	return fut, nil
}

// bindFuture creates the Future for item and wires the item's callbacks
// to it. decode turns the worker's outcomes into the Future's value.
func bindFuture[R any](e *Executor, item *workItem, decode func([]wire.Outcome) (R, error)) *types.Future[R] {
	fut := types.NewFuture[R]()
	fut.SetLogger(e.logger)

	// Completing twice is a dispatcher bug; report it and keep going.
	report := func(err error) {
		if err != nil {
			e.logger.Error("future completed twice", "task", item.id, "func", item.fn, "error", err)
		}
	}

	item.claim = fut.SetRunningOrNotifyCancel
	item.cancel = func() { fut.Cancel() }
	item.fail = func(err error) { report(fut.SetError(err)) }
	item.finish = func(outcomes []wire.Outcome) {
		v, err := decode(outcomes)
		if err != nil {
			report(fut.SetError(err))
			return
		}
		report(fut.SetResult(v))
	}

	fut.AddDoneCallback(func(f *types.Future[R]) error {
		_, err, _ := f.TryGet()
		e.taskDone(item, f.State(), err)
		return nil
	})
	return fut
}

func decodeOutcome[R any](cd codec.Codec, item *workItem, o wire.Outcome) (R, error) {
	var v R
	if o.Err != nil {
		return v, &TaskError{Func: item.fn, TaskID: item.id, Remote: o.Err}
	}
	if err := cd.Unmarshal(o.Value, &v); err != nil {
		return v, fmt.Errorf("decode result of %s with %s: %w", item.fn, cd.Name(), err)
	}
	return v, nil
}

// MapOption customizes Map.
type MapOption func(*mapConfig)

type mapConfig struct {
	chunkSize int
	timeout   time.Duration
}

// WithChunkSize groups n consecutive inputs into one task. Larger chunks
// amortize the pipe round trip for cheap functions. Default 1.
func WithChunkSize(n int) MapOption {
	return func(cfg *mapConfig) {
		if n > 0 {
			cfg.chunkSize = n
		}
	}
}

// WithMapTimeout bounds the whole Map, measured from the call. A result
// not ready in time yields ErrTimeout.
func WithMapTimeout(d time.Duration) MapOption {
	return func(cfg *mapConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

type mapResult[R any] struct {
	Value R
	Err   error
}

// Map applies fn to every input on the executor's workers. All inputs are
// submitted before Map returns; the returned sequence then yields results
// in input order as they become available.
//
// The sequence can be ranged over once. It stops after the first error,
// cancelling whatever has not started yet; breaking out of the loop does
// the same.
//
// Example:
//
//	results, err := pool.Map(ctx, exec, square, slices.Values([]int{1, 2, 3}), pool.WithChunkSize(2))
//	if err != nil {
//	    return err
//	}
//	for n, err := range results {
//	    ...
//	}
func Map[A, R any](ctx context.Context, e *Executor, fn Func[A, R], inputs iter.Seq[A], opts ...MapOption) (iter.Seq2[R, error], error) {
	cfg := mapConfig{chunkSize: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	var deadline time.Time
	if cfg.timeout > 0 {
		deadline = time.Now().Add(cfg.timeout)
	}

	cd, err := e.codecFor(fn.codec)
	if err != nil {
		return nil, err
	}

	var chunks []*types.Future[[]mapResult[R]]
	cancelAll := func() {
		for _, f := range chunks {
			f.Cancel()
		}
	}

	submit := func(payloads [][]byte) error {
		item := &workItem{fn: fn.name, codec: cd.Name(), payloads: payloads}
		fut := bindFuture(e, item, func(outcomes []wire.Outcome) ([]mapResult[R], error) {
			if len(outcomes) != len(payloads) {
				return nil, fmt.Errorf("task %d returned %d results, want %d", item.id, len(outcomes), len(payloads))
			}
			results := make([]mapResult[R], len(outcomes))
			for i, o := range outcomes {
				results[i].Value, results[i].Err = decodeOutcome[R](cd, item, o)
			}
			return results, nil
		})
		if err := e.enqueue(ctx, item); err != nil {
			return err
		}
		chunks = append(chunks, fut)
		return nil
	}

	batch := make([][]byte, 0, cfg.chunkSize)
	for arg := range inputs {
		payload, err := cd.Marshal(arg)
		if err != nil {
			cancelAll()
			return nil, fmt.Errorf("encode argument of %s with %s: %w", fn.name, cd.Name(), err)
		}
		batch = append(batch, payload)
		if len(batch) < cfg.chunkSize {
			continue
		}
		if err := submit(batch); err != nil {
			cancelAll()
			return nil, err
		}
		batch = make([][]byte, 0, cfg.chunkSize)
	}
	if len(batch) > 0 {
		if err := submit(batch); err != nil {
			cancelAll()
			return nil, err
		}
	}

	var used atomic.Bool
	seq := func(yield func(R, error) bool) {
		var zero R
		if !used.CompareAndSwap(false, true) {
			yield(zero, errors.New("pool: Map results can only be ranged over once"))
			return
		}
		defer cancelAll()

		for _, f := range chunks {
			results, err := waitChunk(ctx, f, deadline, cfg.timeout)
			if err != nil {
				yield(zero, err)
				return
			}
			for _, r := range results {
				if !yield(r.Value, r.Err) || r.Err != nil {
					return
				}
			}
		}
	}
	return seq, nil
}

func waitChunk[R any](ctx context.Context, f *types.Future[R], deadline time.Time, timeout time.Duration) (R, error) {
	if deadline.IsZero() {
		return f.GetWithContext(ctx)
	}

	if v, err, ready := f.TryGet(); ready {
		return v, err
	}

	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	v, err := f.GetWithContext(dctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return v, fmt.Errorf("%w: map results not ready within %s", ErrTimeout, timeout)
	}
	return v, err
}
