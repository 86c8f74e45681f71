package pool

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/coder/quartz"

	"github.com/utkarsh5026/goloky/internal/cpu"
	"github.com/utkarsh5026/goloky/internal/ipc"
	"github.com/utkarsh5026/goloky/internal/wire"
)

type workerState int

const (
	workerIdle workerState = iota
	workerBusy
	workerStopping
	workerDead
)

func (s workerState) String() string {
	switch s {
	case workerIdle:
		return "idle"
	case workerBusy:
		return "busy"
	case workerStopping:
		return "stopping"
	case workerDead:
		return "dead"
	default:
		return "unknown"
	}
}

// worker is the controller's view of one worker process. Everything but
// proc and ch is guarded by the executor mutex.
type worker struct {
	slot int
	pid  int
	proc *Process
	ch   *wire.Channel

	state     workerState
	current   *workItem
	idleGen   uint64
	idleTimer *quartz.Timer
	tasks     int
	killed    bool
	startedAt time.Time
}

// workItem is one submitted task: a function name and one payload per
// call. The closures bind it to its typed Future.
type workItem struct {
	id       uint64
	fn       string
	codec    string
	payloads [][]byte

	holdsSlot  bool
	dispatched time.Time

	claim  func() bool
	cancel func()
	fail   func(error)
	finish func([]wire.Outcome)
}

func (item *workItem) message() *wire.Message {
	return &wire.Message{
		Kind:     wire.KindTask,
		TaskID:   item.id,
		Func:     item.fn,
		Codec:    item.codec,
		Payloads: item.payloads,
	}
}

type recvResult struct {
	msg *wire.Message
	err error
}

// startWorker launches a worker process for slot and waits until it is
// ready to take tasks, running the initializer if one is configured.
func (e *Executor) startWorker(slot int) (*worker, error) {
	// The controller reads the child's stdout and writes its stdin.
	parentR, childW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create worker pipe: %w", err)
	}
	childR, parentW, err := os.Pipe()
	if err != nil {
		_ = parentR.Close()
		_ = childW.Close()
		return nil, fmt.Errorf("create worker pipe: %w", err)
	}

	proc, err := e.ctx.Process(ProcessSpec{
		Target: workerTarget,
		Stdin:  childR,
		Stdout: childW,
		Stderr: e.cfg.stderr,
	})
	if err == nil {
		err = proc.Start()
	}
	_ = childR.Close()
	_ = childW.Close()
	if err != nil {
		_ = parentR.Close()
		_ = parentW.Close()
		return nil, err
	}

	w := &worker{
		slot:      slot,
		pid:       proc.Pid(),
		proc:      proc,
		ch:        wire.NewChannel(ipc.NewConn(parentR, parentW)),
		startedAt: time.Now(),
	}
	if err := e.handshake(w); err != nil {
		_ = proc.Kill()
		_ = w.ch.Close()
		<-proc.Done()
		return nil, err
	}

	if e.cfg.pinCPUs {
		core := slot % runtime.NumCPU()
		if err := cpu.PinProcess(w.pid, core); err != nil && !errors.Is(err, cpu.ErrUnsupported) {
			e.logger.Warn("could not pin worker", "pid", w.pid, "cpu", core, "error", err)
		}
	}
	return w, nil
}

// handshake waits for the worker's ready message and runs the initializer,
// all within the start timeout.
func (e *Executor) handshake(w *worker) error {
	deadline := time.NewTimer(e.cfg.startTimeout)
	defer deadline.Stop()

	recv := func() (*wire.Message, error) {
		out := make(chan recvResult, 1)
		go func() {
			msg, err := w.ch.Recv()
			out <- recvResult{msg, err}
		}()
		select {
		case r := <-out:
			return r.msg, r.err
		case <-deadline.C:
			_ = w.proc.Kill()
			return nil, fmt.Errorf("worker %d did not start within %s", w.pid, e.cfg.startTimeout)
		}
	}

	msg, err := recv()
	if err != nil {
		return &BrokenPoolError{Reason: "worker failed to start", PID: w.pid, Err: err}
	}
	if msg.Kind != wire.KindReady {
		return &BrokenPoolError{Reason: fmt.Sprintf("worker sent %s before ready", msg.Kind), PID: w.pid}
	}

	if e.cfg.initName == "" {
		return nil
	}

	codecName, payload, err := e.cfg.encodedInitArg()
	if err != nil {
		return err
	}
	err = w.ch.Send(&wire.Message{
		Kind:     wire.KindInit,
		Func:     e.cfg.initName,
		Codec:    codecName,
		Payloads: [][]byte{payload},
	})
	if err != nil {
		return &BrokenPoolError{Reason: "could not send initializer", PID: w.pid, Err: err}
	}

	msg, err = recv()
	if err != nil {
		return &BrokenPoolError{Reason: "worker died in initializer", PID: w.pid, Err: err}
	}
	if msg.Err != nil {
		return &BrokenPoolError{Reason: "initializer " + e.cfg.initName + " failed", PID: w.pid, Err: msg.Err}
	}
	return nil
}

// spawn starts a worker in the background and registers it on success.
func (e *Executor) spawn(slot int) {
	w, err := e.startWorker(slot)

	e.mu.Lock()
	e.spawning--
	if err != nil {
		e.stats.SpawnFailures++
		e.breakLocked(err)
		e.mu.Unlock()

		e.metrics.spawnFailures.Inc()
		e.signal()
		return
	}

	e.workers[slot] = w
	e.stats.Spawns++
	e.makeIdleLocked(w)
	e.mu.Unlock()

	e.metrics.spawns.Inc()
	debugLog("worker %d started in slot %d", w.pid, slot)
	e.logger.Debug("worker started", "pid", w.pid, "slot", slot)

	go e.collect(w)
	e.signal()
}

// collect reads results from one worker until its pipe closes, then
// reports the exit.
func (e *Executor) collect(w *worker) {
	for {
		msg, err := w.ch.Recv()
		if err != nil {
			break
		}
		if msg.Kind != wire.KindResult {
			e.logger.Warn("unexpected message from worker", "pid", w.pid, "kind", msg.Kind)
			continue
		}
		e.handleResult(w, msg)
	}

	<-w.proc.Done()
	_ = w.ch.Close()
	e.workerExited(w)
}

func (e *Executor) handleResult(w *worker, msg *wire.Message) {
	e.mu.Lock()
	item := w.current
	if item == nil || item.id != msg.TaskID {
		e.mu.Unlock()
		e.logger.Warn("result for a task the worker does not own", "pid", w.pid, "task", msg.TaskID)
		return
	}
	w.current = nil
	w.tasks++
	if w.state == workerBusy {
		e.makeIdleLocked(w)
	}
	e.mu.Unlock()

	e.metrics.taskDuration.Observe(time.Since(item.dispatched).Seconds())
	item.finish(msg.Outcomes)
	e.signal()
}

// makeIdleLocked parks w and arms its idle timer.
func (e *Executor) makeIdleLocked(w *worker) {
	w.state = workerIdle
	w.idleGen++
	gen := w.idleGen
	e.idle = append(e.idle, w)
	w.idleTimer = e.clock.AfterFunc(e.cfg.idleTimeout, func() { e.reap(w, gen) }, "goloky", "idle")
}

// assignLocked hands item to the idle worker w.
func (e *Executor) assignLocked(w *worker, item *workItem) {
	w.state = workerBusy
	w.idleGen++
	if w.idleTimer != nil {
		w.idleTimer.Stop()
		w.idleTimer = nil
	}
	w.current = item
	item.dispatched = time.Now()
}

func (e *Executor) popIdleLocked() *worker {
	w := e.idle[len(e.idle)-1]
	e.idle[len(e.idle)-1] = nil
	e.idle = e.idle[:len(e.idle)-1]
	return w
}

// retireIdleLocked takes an idle worker out of service so it can be
// stopped.
func (e *Executor) retireIdleLocked() *worker {
	w := e.popIdleLocked()
	w.state = workerStopping
	w.idleGen++
	if w.idleTimer != nil {
		w.idleTimer.Stop()
		w.idleTimer = nil
	}
	return w
}

func (e *Executor) removeIdleLocked(w *worker) {
	for i, iw := range e.idle {
		if iw == w {
			e.idle = append(e.idle[:i], e.idle[i+1:]...)
			return
		}
	}
}

// reap stops a worker whose idle timer fired, unless it got work since.
func (e *Executor) reap(w *worker, gen uint64) {
	e.mu.Lock()
	if w.state != workerIdle || w.idleGen != gen {
		e.mu.Unlock()
		return
	}
	e.removeIdleLocked(w)
	w.state = workerStopping
	w.idleTimer = nil
	e.mu.Unlock()

	e.logger.Debug("stopping idle worker", "pid", w.pid, "idle_timeout", e.cfg.idleTimeout)
	e.stopWorker(w)
}

// stopWorker asks a worker to exit. If the request cannot be delivered the
// process is killed.
func (e *Executor) stopWorker(w *worker) {
	if err := w.ch.Send(&wire.Message{Kind: wire.KindShutdown}); err != nil {
		_ = w.proc.Kill()
	}
}

// sendTask delivers item to w. A failed write kills the worker so the
// collector reports the task as lost.
func (e *Executor) sendTask(w *worker, item *workItem) {
	debugLog("task %d -> worker %d", item.id, w.pid)
	if err := w.ch.Send(item.message()); err != nil {
		e.logger.Warn("could not send task to worker", "pid", w.pid, "task", item.id, "error", err)
		_ = w.proc.Kill()
	}
}

// workerExited removes w from the pool. A worker that was not asked to
// stop counts as a crash, and the task it owned fails.
func (e *Executor) workerExited(w *worker) {
	exitCode := w.proc.ExitCode()

	e.mu.Lock()
	delete(e.workers, w.slot)
	e.removeIdleLocked(w)
	if w.idleTimer != nil {
		w.idleTimer.Stop()
		w.idleTimer = nil
	}
	item := w.current
	w.current = nil
	expected := w.state == workerStopping
	w.state = workerDead

	var itemErr error
	if !expected && !w.killed {
		e.stats.Crashes++
		if e.state == StateRunning && !e.crashes.Allow() {
			e.breakLocked(&BrokenPoolError{
				Reason:   "workers keep crashing",
				PID:      w.pid,
				ExitCode: exitCode,
			})
		}
	}
	if item != nil {
		reason := "worker died while running the task"
		if w.killed {
			reason = "worker terminated by shutdown"
		}
		itemErr = &BrokenPoolError{Reason: reason, PID: w.pid, ExitCode: exitCode, TaskID: item.id}
	}
	e.mu.Unlock()

	switch {
	case expected:
		e.logger.Debug("worker exited", "pid", w.pid, "tasks", w.tasks)
	case w.killed:
		e.logger.Info("worker terminated", "pid", w.pid)
	default:
		e.metrics.crashes.Inc()
		e.logger.Warn("worker crashed", "pid", w.pid, "exit_code", exitCode, "tasks", w.tasks)
	}

	if item != nil {
		item.fail(itemErr)
	}
	e.signal()
}
