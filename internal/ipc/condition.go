package ipc

import (
	"context"
	"errors"
	"math"
	"time"
)

// Condition is a condition variable shared between processes.
//
// Waiters are counted in the sleeping semaphore and parked on the wait
// semaphore. A notifier moves waiters from sleeping to wait and then
// blocks on woken until each of them has actually woken up, so a
// notification can never be consumed by a waiter that arrives later.
type Condition struct {
	lock     ConditionLock
	sleeping *Semaphore
	woken    *Semaphore
	wait     *Semaphore
}

// NewCondition creates a condition bound to lock. A nil lock gets a fresh
// reentrant lock in ns.
func NewCondition(ns *Namespace, name string, lock ConditionLock) (*Condition, error) {
	if lock == nil {
		rl, err := NewRLock(ns, name+".lock")
		if err != nil {
			return nil, err
		}
		lock = rl
	}
	c := &Condition{lock: lock}

	var err error
	if c.sleeping, err = NewSemaphore(ns, name+".sleeping", 0); err != nil {
		return nil, err
	}
	if c.woken, err = NewSemaphore(ns, name+".woken", 0); err != nil {
		return nil, err
	}
	if c.wait, err = NewSemaphore(ns, name+".wait", 0); err != nil {
		return nil, err
	}
	return c, nil
}

// OpenCondition joins a condition created elsewhere, bound to lock.
func OpenCondition(ns *Namespace, name string, lock ConditionLock) (*Condition, error) {
	c := &Condition{lock: lock}

	var err error
	if c.sleeping, err = OpenSemaphore(ns, name+".sleeping"); err != nil {
		return nil, err
	}
	if c.woken, err = OpenSemaphore(ns, name+".woken"); err != nil {
		return nil, err
	}
	if c.wait, err = OpenSemaphore(ns, name+".wait"); err != nil {
		return nil, err
	}
	return c, nil
}

// Acquire takes the underlying lock.
func (c *Condition) Acquire(timeout time.Duration) (bool, error) {
	return c.lock.AcquireContext(context.Background(), timeout)
}

// Release releases the underlying lock.
func (c *Condition) Release() error { return c.lock.Release() }

// Wait releases the lock, waits for a notification or the timeout and
// takes the lock back before returning. The caller must hold the lock.
// It reports false when the timeout elapsed without a notification.
func (c *Condition) Wait(timeout time.Duration) (bool, error) {
	return c.WaitContext(context.Background(), timeout)
}

// WaitContext is Wait with cancellation of the wait phase.
func (c *Condition) WaitContext(ctx context.Context, timeout time.Duration) (bool, error) {
	if !c.lock.Owned() {
		return false, ErrNotOwner
	}
	if err := c.sleeping.Release(); err != nil {
		return false, err
	}

	depth, err := c.lock.releaseAll()
	if err != nil {
		return false, err
	}

	notified, waitErr := c.wait.AcquireContext(ctx, timeout)
	wokeErr := c.woken.Release()
	lockErr := c.lock.reacquire(context.Background(), depth)

	return notified, errors.Join(waitErr, wokeErr, lockErr)
}

// WaitFor waits until predicate holds or the timeout elapses and returns
// the last value of predicate. The caller must hold the lock.
func (c *Condition) WaitFor(predicate func() bool, timeout time.Duration) (bool, error) {
	result := predicate()
	if result {
		return true, nil
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for !result {
		wait := Forever
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				break
			}
		}
		if _, err := c.Wait(wait); err != nil {
			return false, err
		}
		result = predicate()
	}
	return result, nil
}

// Notify wakes at most n waiters. The caller must hold the lock.
func (c *Condition) Notify(n int) error {
	if !c.lock.Owned() {
		return ErrNotOwner
	}

	// A leftover wait token means an earlier notify raced a timeout; drop it.
	for {
		ok, err := c.wait.Acquire(0)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}

	// Waiters that timed out released woken without being notified.
	for {
		ok, err := c.woken.Acquire(0)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if _, err := c.sleeping.Acquire(0); err != nil {
			return err
		}
	}

	sleepers := 0
	for sleepers < n {
		ok, err := c.sleeping.Acquire(0)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := c.wait.Release(); err != nil {
			return err
		}
		sleepers++
	}

	if sleepers == 0 {
		return nil
	}
	for range sleepers {
		if _, err := c.woken.Acquire(Forever); err != nil {
			return err
		}
	}
	for {
		ok, err := c.wait.Acquire(0)
		if err != nil || !ok {
			return err
		}
	}
}

// NotifyAll wakes every waiter.
func (c *Condition) NotifyAll() error { return c.Notify(math.MaxInt) }

// Close closes the semaphore handles. The lock is left to its owner.
func (c *Condition) Close() error {
	return errors.Join(c.sleeping.Close(), c.woken.Close(), c.wait.Close())
}
