package ipc

import (
	"errors"
	"time"
)

// Event is a flag shared between processes that waiters can block on.
type Event struct {
	lock *Lock
	cond *Condition
	flag *Semaphore
}

// NewEvent creates a cleared event.
func NewEvent(ns *Namespace, name string) (*Event, error) {
	lock, err := NewLock(ns, name+".mutex")
	if err != nil {
		return nil, err
	}
	cond, err := NewCondition(ns, name+".cond", lock)
	if err != nil {
		return nil, err
	}
	flag, err := NewSemaphore(ns, name+".flag", 0)
	if err != nil {
		return nil, err
	}
	return &Event{lock: lock, cond: cond, flag: flag}, nil
}

// OpenEvent joins an event created elsewhere.
func OpenEvent(ns *Namespace, name string) (*Event, error) {
	lock, err := OpenLock(ns, name+".mutex")
	if err != nil {
		return nil, err
	}
	cond, err := OpenCondition(ns, name+".cond", lock)
	if err != nil {
		return nil, err
	}
	flag, err := OpenSemaphore(ns, name+".flag")
	if err != nil {
		return nil, err
	}
	return &Event{lock: lock, cond: cond, flag: flag}, nil
}

// IsSet reports whether the flag is raised.
func (e *Event) IsSet() (bool, error) {
	if _, err := e.lock.Acquire(Forever); err != nil {
		return false, err
	}
	defer func() { _ = e.lock.Release() }()
	return e.peekLocked()
}

func (e *Event) peekLocked() (bool, error) {
	ok, err := e.flag.Acquire(0)
	if err != nil || !ok {
		return false, err
	}
	return true, e.flag.Release()
}

// Set raises the flag and wakes every waiter.
func (e *Event) Set() error {
	if _, err := e.lock.Acquire(Forever); err != nil {
		return err
	}
	defer func() { _ = e.lock.Release() }()

	if _, err := e.flag.Acquire(0); err != nil {
		return err
	}
	if err := e.flag.Release(); err != nil {
		return err
	}
	return e.cond.NotifyAll()
}

// Clear lowers the flag.
func (e *Event) Clear() error {
	if _, err := e.lock.Acquire(Forever); err != nil {
		return err
	}
	defer func() { _ = e.lock.Release() }()

	_, err := e.flag.Acquire(0)
	return err
}

// Wait blocks until the flag is raised or the timeout elapses and returns
// the state of the flag.
func (e *Event) Wait(timeout time.Duration) (bool, error) {
	if _, err := e.lock.Acquire(Forever); err != nil {
		return false, err
	}
	defer func() { _ = e.lock.Release() }()

	set, err := e.peekLocked()
	if err != nil || set {
		return set, err
	}
	if _, err := e.cond.Wait(timeout); err != nil {
		return false, err
	}
	return e.peekLocked()
}

// Close closes every handle the event holds.
func (e *Event) Close() error {
	return errors.Join(e.cond.Close(), e.flag.Close(), e.lock.Close())
}
