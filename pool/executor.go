package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/utkarsh5026/goloky/codec"
	"github.com/utkarsh5026/goloky/internal/types"
)

// State is the lifecycle state of an Executor.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateShuttingDown
	StateShutDown
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateShutDown:
		return "SHUT_DOWN"
	case StateBroken:
		return "BROKEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Future is the handle on a submitted task's result.
type Future[R any] = types.Future[R]

// Stats is a snapshot of an executor's activity.
type Stats struct {
	State      State
	MaxWorkers int
	Workers    int
	Idle       int
	Busy       int
	Pending    int

	Submitted     uint64
	Completed     uint64
	Failed        uint64
	Cancelled     uint64
	Crashes       uint64
	Spawns        uint64
	SpawnFailures uint64
}

// ShutdownOptions controls Executor.Shutdown.
type ShutdownOptions struct {
	// Wait blocks Shutdown until every worker process has exited.
	Wait bool

	// CancelFutures cancels tasks that have not started and terminates
	// workers running tasks. Those tasks fail with a BrokenPoolError.
	// Without it, queued tasks run to completion first.
	CancelFutures bool
}

// Executor runs registered functions in a pool of worker processes.
// Workers are started on demand up to the configured maximum, stopped
// after sitting idle, and replaced when they crash.
//
// An Executor is safe for concurrent use.
type Executor struct {
	id      string
	cfg     *executorConfig
	ctx     *Context
	codec   codec.Codec
	logger  *slog.Logger
	clock   quartz.Clock
	metrics *executorMetrics
	crashes *rate.Limiter
	slots   *semaphore.Weighted

	mu         sync.Mutex
	state      State
	maxWorkers int
	pending    []*workItem
	workers    map[int]*worker
	idle       []*worker
	nextSlot   int
	spawning   int
	brokenErr  error
	nextID     uint64
	stats      Stats

	wake chan struct{}
	done chan struct{}
}

// NewExecutor creates an executor that is not shared. Most programs use
// GetReusableExecutor instead.
//
// Example:
//
//	exec, err := pool.NewExecutor(pool.WithMaxWorkers(4), pool.WithIdleTimeout(time.Minute))
//	if err != nil {
//	    return err
//	}
//	defer exec.Shutdown(ctx, pool.ShutdownOptions{Wait: true})
func NewExecutor(opts ...Option) (*Executor, error) {
	cfg, err := createConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newExecutor(cfg)
}

func newExecutor(cfg *executorConfig) (*Executor, error) {
	if err := controllerOnly(); err != nil {
		return nil, err
	}

	ctx, err := GetContext(cfg.method)
	if err != nil {
		return nil, err
	}
	cd, err := codec.Lookup(cfg.codecName)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	e := &Executor{
		id:         id,
		cfg:        cfg,
		ctx:        ctx,
		codec:      cd,
		logger:     cfg.logger.With("component", "goloky", "executor", id[:8]),
		clock:      cfg.clock,
		crashes:    cfg.crashLimiter(),
		slots:      semaphore.NewWeighted(int64(cfg.queueSize)),
		state:      StateCreated,
		maxWorkers: cfg.maxWorkers,
		workers:    make(map[int]*worker),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	e.metrics, err = newExecutorMetrics(e, cfg.registerer)
	if err != nil {
		return nil, fmt.Errorf("register executor metrics: %w", err)
	}

	go e.dispatchLoop()

	e.logger.Info("executor created",
		"max_workers", cfg.maxWorkers,
		"start_method", cfg.method,
		"codec", cfg.codecName,
		"queue_size", cfg.queueSize)
	return e, nil
}

// ID identifies the executor in logs and metrics.
func (e *Executor) ID() string { return e.id }

// State returns the current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// MaxWorkers returns the current worker cap.
func (e *Executor) MaxWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxWorkers
}

// Workers returns the process ids of the live workers in ascending order.
func (e *Executor) Workers() []int {
	e.mu.Lock()
	pids := make([]int, 0, len(e.workers))
	for _, w := range e.workers {
		pids = append(pids, w.pid)
	}
	e.mu.Unlock()

	slices.Sort(pids)
	return pids
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.State = e.state
	s.MaxWorkers = e.maxWorkers
	s.Workers = len(e.workers)
	s.Idle = len(e.idle)
	s.Pending = len(e.pending)
	for _, w := range e.workers {
		if w.state == workerBusy {
			s.Busy++
		}
	}
	return s
}

// Metrics returns the registry the executor's metrics live in, or nil if
// they were registered with a Registerer that cannot be gathered.
func (e *Executor) Metrics() prometheus.Gatherer { return e.metrics.gatherer() }

// Resize changes the worker cap. Growing takes effect as tasks arrive.
// Shrinking stops idle workers right away and busy ones once they finish
// their task.
func (e *Executor) Resize(maxWorkers int) error {
	if maxWorkers <= 0 {
		return fmt.Errorf("pool: max workers must be positive, got %d", maxWorkers)
	}

	e.mu.Lock()
	if e.state == StateShuttingDown || e.state == StateShutDown {
		e.mu.Unlock()
		return ErrExecutorShutdown
	}
	old := e.maxWorkers
	e.maxWorkers = maxWorkers
	e.mu.Unlock()

	if old != maxWorkers {
		e.logger.Info("executor resized", "from", old, "to", maxWorkers)
	}
	e.signal()
	return nil
}

// Shutdown stops accepting tasks and winds the workers down. See
// ShutdownOptions. Calling it again is harmless; with Wait set it blocks
// until shutdown completes or ctx ends.
func (e *Executor) Shutdown(ctx context.Context, opts ShutdownOptions) error {
	e.mu.Lock()
	if e.state != StateShutDown && e.state != StateShuttingDown {
		e.logger.Info("executor shutting down", "wait", opts.Wait, "cancel_futures", opts.CancelFutures)
		e.state = StateShuttingDown
	}

	var (
		cancelled []*workItem
		killed    []*worker
	)
	if opts.CancelFutures && e.state == StateShuttingDown {
		cancelled = e.pending
		e.pending = nil
		for _, item := range cancelled {
			e.releaseSlotLocked(item)
		}
		for _, w := range e.workers {
			if w.state == workerBusy && !w.killed {
				w.killed = true
				killed = append(killed, w)
			}
		}
	}
	finished := e.finishIfDoneLocked()
	e.mu.Unlock()

	for _, item := range cancelled {
		item.cancel()
	}
	for _, w := range killed {
		_ = w.proc.Kill()
	}
	if finished {
		e.finish()
	}
	e.signal()

	if !opts.Wait {
		return nil
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the executor reached StateShutDown and every worker
// process has exited.
func (e *Executor) Done() <-chan struct{} { return e.done }

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) dispatchLoop() {
	for {
		select {
		case <-e.wake:
			e.dispatch()
		case <-e.done:
			return
		}
	}
}

type assignment struct {
	w    *worker
	item *workItem
}

// dispatch moves queued tasks to idle workers and sizes the pool. State
// changes happen under the mutex; pipe writes and spawning happen after.
func (e *Executor) dispatch() {
	var (
		sends    []assignment
		stops    []*worker
		spawns   []int
		stranded []*workItem
	)

	e.mu.Lock()
	for len(e.pending) > 0 && len(e.idle) > 0 {
		item := e.pending[0]
		e.pending[0] = nil
		e.pending = e.pending[1:]
		e.releaseSlotLocked(item)
		if !item.claim() {
			continue
		}
		w := e.popIdleLocked()
		e.assignLocked(w, item)
		sends = append(sends, assignment{w, item})
	}

	if e.brokenErr == nil && (e.state == StateRunning || e.state == StateShuttingDown) {
		want := len(e.pending) - e.spawning
		room := e.maxWorkers - e.activeLocked() - e.spawning
		for range max(min(want, room), 0) {
			spawns = append(spawns, e.nextSlot)
			e.nextSlot++
			e.spawning++
		}
	}

	for e.activeLocked() > e.maxWorkers && len(e.idle) > 0 {
		stops = append(stops, e.retireIdleLocked())
	}
	if e.state == StateShuttingDown && len(e.pending) == 0 {
		for len(e.idle) > 0 {
			stops = append(stops, e.retireIdleLocked())
		}
	}

	// A broken pool with no workers left cannot run anything.
	if e.brokenErr != nil && e.activeLocked() == 0 && e.spawning == 0 {
		stranded = e.pending
		e.pending = nil
		for _, item := range stranded {
			e.releaseSlotLocked(item)
		}
	}
	brokenErr := e.brokenErr
	finished := e.finishIfDoneLocked()
	e.mu.Unlock()

	for _, a := range sends {
		e.sendTask(a.w, a.item)
	}
	for _, w := range stops {
		e.stopWorker(w)
	}
	for _, slot := range spawns {
		go e.spawn(slot)
	}
	for _, item := range stranded {
		if item.claim() {
			item.fail(brokenErr)
		}
	}
	if finished {
		e.finish()
	}
}

// activeLocked counts workers that can still take tasks.
func (e *Executor) activeLocked() int {
	n := 0
	for _, w := range e.workers {
		if w.state == workerIdle || w.state == workerBusy {
			n++
		}
	}
	return n
}

func (e *Executor) releaseSlotLocked(item *workItem) {
	if item.holdsSlot {
		item.holdsSlot = false
		e.slots.Release(1)
	}
}

// breakLocked records the first fatal error. Tasks already queued keep
// running on surviving workers; new submissions are refused.
func (e *Executor) breakLocked(err error) {
	if e.brokenErr != nil {
		return
	}
	if !errors.Is(err, ErrBrokenPool) {
		err = &BrokenPoolError{Reason: "executor failed", Err: err}
	}
	e.brokenErr = err
	if e.state == StateCreated || e.state == StateRunning {
		e.state = StateBroken
	}
	e.logger.Error("executor is broken", "error", err)
}

func (e *Executor) finishIfDoneLocked() bool {
	if e.state != StateShuttingDown {
		return false
	}
	if len(e.workers) > 0 || e.spawning > 0 || len(e.pending) > 0 {
		return false
	}
	e.state = StateShutDown
	return true
}

func (e *Executor) finish() {
	e.metrics.unregister()
	close(e.done)
	e.logger.Info("executor shut down")
}

// acceptingLocked reports why new tasks are refused, if they are.
func (e *Executor) acceptingLocked() error {
	switch {
	case e.state == StateShuttingDown || e.state == StateShutDown:
		return ErrExecutorShutdown
	case e.brokenErr != nil:
		return e.brokenErr
	}
	return nil
}

// enqueue queues item, blocking while the queue is full.
func (e *Executor) enqueue(ctx context.Context, item *workItem) error {
	e.mu.Lock()
	err := e.acceptingLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	e.mu.Lock()
	if err := e.acceptingLocked(); err != nil {
		e.mu.Unlock()
		e.slots.Release(1)
		return err
	}
	if e.state == StateCreated {
		e.state = StateRunning
	}
	e.nextID++
	item.id = e.nextID
	item.holdsSlot = true
	e.pending = append(e.pending, item)
	e.stats.Submitted++
	e.mu.Unlock()

	e.metrics.submitted.Inc()
	e.signal()
	return nil
}

// forget drops a cancelled item from the queue and frees its slot.
func (e *Executor) forget(item *workItem) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i := slices.Index(e.pending, item); i >= 0 {
		e.pending = slices.Delete(e.pending, i, i+1)
	}
	e.releaseSlotLocked(item)
}

// taskDone records a Future reaching a terminal state.
func (e *Executor) taskDone(item *workItem, state types.State, err error) {
	outcome := "success"
	switch {
	case state == types.StateCancelled:
		outcome = "cancelled"
		e.forget(item)
	case errors.Is(err, ErrBrokenPool):
		outcome = "broken"
	case err != nil:
		outcome = "error"
	}

	e.mu.Lock()
	switch outcome {
	case "success":
		e.stats.Completed++
	case "cancelled":
		e.stats.Cancelled++
	default:
		e.stats.Failed++
	}
	e.mu.Unlock()

	e.metrics.completed.WithLabelValues(outcome).Inc()
}

// codecFor resolves the codec a function's payloads travel with.
func (e *Executor) codecFor(own string) (codec.Codec, error) {
	return resolveCodec(own, e.codec)
}
