package pool

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/utkarsh5026/goloky/codec"
	"github.com/utkarsh5026/goloky/internal/ipc"
)

// StartMethod selects how worker processes are started.
type StartMethod string

const (
	// MethodLoky starts a fresh copy of the program that serves tasks
	// without running the setup functions passed to Init. It is the
	// default and the cheapest method.
	MethodLoky StartMethod = "loky"

	// MethodLokyInitMain starts a fresh copy of the program that runs the
	// setup functions passed to Init before serving tasks.
	MethodLokyInitMain StartMethod = "loky_init_main"

	// MethodSpawn behaves like MethodLokyInitMain.
	MethodSpawn StartMethod = "spawn"
)

// DefaultStartMethod is used when neither GetContext nor SetStartMethod
// chose one.
const DefaultStartMethod = MethodLoky

var validMethods = []StartMethod{MethodLoky, MethodLokyInitMain, MethodSpawn}

// ValidStartMethods lists the supported start methods.
func ValidStartMethods() []StartMethod { return slices.Clone(validMethods) }

func (m StartMethod) validate() error {
	if slices.Contains(validMethods, m) {
		return nil
	}
	return &StartMethodError{Method: m, Valid: ValidStartMethods()}
}

// runsSetup reports whether workers run the setup functions given to Init.
func (m StartMethod) runsSetup() bool {
	return m == MethodLokyInitMain || m == MethodSpawn
}

var startMethod struct {
	sync.Mutex
	method StartMethod
}

// SetStartMethod registers the process-wide default start method. The
// first registration wins: later calls return ErrContextAlreadySet unless
// force is true.
func SetStartMethod(method StartMethod, force bool) error {
	if err := method.validate(); err != nil {
		return err
	}

	startMethod.Lock()
	defer startMethod.Unlock()

	if startMethod.method != "" && !force {
		return fmt.Errorf("%w to %q", ErrContextAlreadySet, startMethod.method)
	}
	startMethod.method = method
	return nil
}

// GetStartMethod returns the registered start method, or "" when none was
// registered.
func GetStartMethod() StartMethod {
	startMethod.Lock()
	defer startMethod.Unlock()
	return startMethod.method
}

var contexts = struct {
	sync.Mutex
	byMethod map[StartMethod]*Context
}{byMethod: make(map[StartMethod]*Context)}

// GetContext returns the Context for method, or for the registered start
// method, or for DefaultStartMethod. Contexts are created once per method
// and shared.
func GetContext(method ...StartMethod) (*Context, error) {
	m := GetStartMethod()
	if len(method) > 0 && method[0] != "" {
		m = method[0]
	}
	if m == "" {
		m = DefaultStartMethod
	}
	if err := m.validate(); err != nil {
		return nil, err
	}

	contexts.Lock()
	defer contexts.Unlock()

	if c, ok := contexts.byMethod[m]; ok {
		return c, nil
	}
	c := &Context{method: m}
	contexts.byMethod[m] = c
	return c, nil
}

// Cleanup closes every Context created by GetContext, removing their
// primitive files.
func Cleanup() error {
	contexts.Lock()
	defer contexts.Unlock()

	var firstErr error
	for m, c := range contexts.byMethod {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(contexts.byMethod, m)
	}
	return firstErr
}

// Cross-process primitives handed out by a Context.
type (
	Lock             = ipc.Lock
	RLock            = ipc.RLock
	Semaphore        = ipc.Semaphore
	BoundedSemaphore = ipc.BoundedSemaphore
	Condition        = ipc.Condition
	ConditionLock    = ipc.ConditionLock
	Event            = ipc.Event
	Conn             = ipc.Conn
	Queue            = ipc.Queue
	QueueHandle      = ipc.QueueHandle
	SimpleQueue      = ipc.SimpleQueue
)

// Forever disables the timeout of a blocking acquire or queue operation.
const Forever = ipc.Forever

// Context creates worker processes and the primitives they share with
// the controller. All primitives of a Context live in one namespace
// directory that child processes join through the environment.
type Context struct {
	method StartMethod

	mu sync.Mutex
	ns *ipc.Namespace
}

// Method returns the start method of the context.
func (c *Context) Method() StartMethod { return c.method }

// namespace returns the namespace, joining the inherited one inside a
// child process and creating a fresh one otherwise.
func (c *Context) namespace() (*ipc.Namespace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ns != nil {
		return c.ns, nil
	}
	ns, ok, err := ipc.InheritedNamespace()
	if err != nil {
		return nil, err
	}
	if !ok {
		if ns, err = ipc.NewNamespace(); err != nil {
			return nil, err
		}
	}
	c.ns = ns
	return ns, nil
}

// Dir returns the namespace directory, creating it if needed.
func (c *Context) Dir() (string, error) {
	ns, err := c.namespace()
	if err != nil {
		return "", err
	}
	return ns.Dir(), nil
}

// Close removes the namespace when this process created it.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ns == nil {
		return nil
	}
	err := c.ns.Close()
	c.ns = nil
	return err
}

// CPUCount is the package-level CPUCount.
func (c *Context) CPUCount(physicalOnly bool) (int, error) { return CPUCount(physicalOnly) }

// Pipe returns a connected pair of connections. See ipc.Pipe.
func (c *Context) Pipe(duplex bool) (*Conn, *Conn, error) { return ipc.Pipe(duplex) }

// Lock creates a new non-reentrant lock.
func (c *Context) Lock() (*Lock, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.NewLock(ns, ns.NewName("lock"))
}

// OpenLock joins the lock called name.
func (c *Context) OpenLock(name string) (*Lock, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.OpenLock(ns, name)
}

// RLock creates a new reentrant lock.
func (c *Context) RLock() (*RLock, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.NewRLock(ns, ns.NewName("rlock"))
}

// OpenRLock joins the reentrant lock called name as a new owner.
func (c *Context) OpenRLock(name string) (*RLock, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.OpenRLock(ns, name)
}

// Semaphore creates a semaphore with the given initial value.
func (c *Context) Semaphore(value int) (*Semaphore, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.NewSemaphore(ns, ns.NewName("sem"), value)
}

// OpenSemaphore joins the semaphore called name.
func (c *Context) OpenSemaphore(name string) (*Semaphore, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.OpenSemaphore(ns, name)
}

// BoundedSemaphore creates a semaphore starting at value that never
// exceeds max.
func (c *Context) BoundedSemaphore(value, max int) (*BoundedSemaphore, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.NewBoundedSemaphore(ns, ns.NewName("bsem"), value, max)
}

// OpenBoundedSemaphore joins the bounded semaphore called name.
func (c *Context) OpenBoundedSemaphore(name string) (*BoundedSemaphore, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.OpenBoundedSemaphore(ns, name)
}

// Condition creates a condition variable bound to lock. A nil lock gets a
// fresh reentrant lock. The returned name is what OpenCondition needs.
func (c *Context) Condition(lock ConditionLock) (*Condition, string, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, "", err
	}
	name := ns.NewName("cond")
	cond, err := ipc.NewCondition(ns, name, lock)
	return cond, name, err
}

// OpenCondition joins the condition called name, bound to the caller's
// handle on the same lock.
func (c *Context) OpenCondition(name string, lock ConditionLock) (*Condition, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.OpenCondition(ns, name, lock)
}

// Event creates a cleared event. The returned name is what OpenEvent needs.
func (c *Context) Event() (*Event, string, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, "", err
	}
	name := ns.NewName("event")
	ev, err := ipc.NewEvent(ns, name)
	return ev, name, err
}

// OpenEvent joins the event called name.
func (c *Context) OpenEvent(name string) (*Event, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.OpenEvent(ns, name)
}

// Queue creates a FIFO shared with child processes. maxsize <= 0 means
// unbounded. Items are encoded with the default codec.
func (c *Context) Queue(maxsize int) (*Queue, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	cd, err := codec.Default()
	if err != nil {
		return nil, err
	}
	return ipc.NewQueue(ns, maxsize, cd)
}

// OpenQueue joins a queue inside a child from its handle and the pipe
// ends it inherited.
func (c *Context) OpenQueue(h QueueHandle, r, w *os.File) (*Queue, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	return ipc.OpenQueue(ns, h, r, w)
}

// SimpleQueue creates an unbounded queue whose operations always block.
func (c *Context) SimpleQueue() (*SimpleQueue, error) {
	ns, err := c.namespace()
	if err != nil {
		return nil, err
	}
	cd, err := codec.Default()
	if err != nil {
		return nil, err
	}
	return ipc.NewSimpleQueue(ns, cd)
}
