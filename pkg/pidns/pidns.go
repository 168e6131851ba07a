// Package pidns implements the PID Namespace Controller: per-namespace
// virtual PID allocation, task binding, and lookups scoped to a single
// namespace so the same virtual PID in two namespaces never resolves to
// the same task.
package pidns

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lattice-rt/cage/pkg/rtos"
)

var (
	ErrCapacity      = errors.New("pidns: no free namespace slot")
	ErrInvalidName   = errors.New("pidns: name must not be empty")
	ErrNotEmpty      = errors.New("pidns: cannot delete, task-count > 0")
	ErrUnknownHandle = errors.New("pidns: stale or unknown handle")
	ErrRootNamespace = errors.New("pidns: root namespace cannot be deleted")
	ErrAlreadyBound  = errors.New("pidns: task already bound to a namespace")
	ErrPIDExhausted  = errors.New("pidns: namespace has exhausted its virtual PID range")
	ErrNotBoundHere  = errors.New("pidns: task not bound to this namespace")
)

// Handle is a generation-checked reference to a PID namespace slot.
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) String() string { return fmt.Sprintf("pidns#%d.%d", h.index, h.generation) }

type taskEntry struct {
	task rtos.TaskID
	vpid uint32
}

type slot struct {
	active      bool
	generation  uint32
	name        string
	id          uint64
	nextVPID    uint32
	maxVPID     uint32
	tasks       []taskEntry // fixed-capacity slot array
	taskCount   int
}

// Controller owns the fixed-size table of PID namespaces. Namespace 0 is
// always the root namespace: it exists from New() onward and Delete
// refuses to remove it.
type Controller struct {
	mu      sync.Mutex
	slots   []slot
	maxVPID uint32
	nextNS  uint64

	root Handle

	// taskNS maps a bound task to its namespace handle; tasks not present
	// here behave as belonging to the root namespace.
	taskNS map[rtos.TaskID]Handle
}

// Config tunes the controller's fixed-size tables.
type Config struct {
	MaxNamespaces int
	MaxVirtualPID uint32
}

// New allocates a controller and its always-present root namespace.
func New(cfg Config) *Controller {
	c := &Controller{
		slots:   make([]slot, cfg.MaxNamespaces),
		maxVPID: cfg.MaxVirtualPID,
		taskNS:  make(map[rtos.TaskID]Handle),
	}
	h, err := c.create("root")
	if err != nil {
		// MaxNamespaces must be at least 1; a zero-capacity controller is a
		// configuration error the caller should have caught earlier.
		panic("pidns: controller configured with no room for the root namespace")
	}
	c.root = h
	return c
}

// Root returns the handle of the always-present root namespace.
func (c *Controller) Root() Handle { return c.root }

// Create allocates a new, non-root PID namespace.
func (c *Controller) Create(name string) (Handle, error) {
	if name == "" {
		return Handle{}, ErrInvalidName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.create(name)
}

// create allocates a slot. Caller holds c.mu (or is the constructor, before
// any lock is observable).
func (c *Controller) create(name string) (Handle, error) {
	for i := range c.slots {
		if c.slots[i].active {
			continue
		}
		c.nextNS++
		c.slots[i] = slot{
			active:     true,
			generation: c.slots[i].generation + 1,
			name:       name,
			id:         c.nextNS,
			nextVPID:   1,
			maxVPID:    c.maxVPID,
			tasks:      make([]taskEntry, 0, 8),
		}
		return Handle{index: uint32(i), generation: c.slots[i].generation}, nil
	}
	return Handle{}, ErrCapacity
}

func (c *Controller) lookup(h Handle) (*slot, error) {
	if int(h.index) >= len(c.slots) {
		return nil, ErrUnknownHandle
	}
	s := &c.slots[h.index]
	if !s.active || s.generation != h.generation {
		return nil, ErrUnknownHandle
	}
	return s, nil
}

// Delete removes a non-root, empty namespace.
func (c *Controller) Delete(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h == c.root {
		return ErrRootNamespace
	}
	s, err := c.lookup(h)
	if err != nil {
		return err
	}
	if s.taskCount > 0 {
		return ErrNotEmpty
	}
	*s = slot{generation: s.generation}
	return nil
}

// Bind allocates the next monotonic virtual PID within the namespace and
// associates it with task. Creation is a two-step process: the caller
// creates the task normally, then binds it here; on bind failure the
// caller is responsible for deleting the task it created.
func (c *Controller) Bind(h Handle, task rtos.TaskID) (vpid uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookup(h)
	if err != nil {
		return 0, err
	}
	if _, bound := c.taskNS[task]; bound {
		return 0, ErrAlreadyBound
	}
	if s.nextVPID > s.maxVPID {
		return 0, ErrPIDExhausted
	}
	vpid = s.nextVPID
	s.nextVPID++
	s.tasks = append(s.tasks, taskEntry{task: task, vpid: vpid})
	s.taskCount++
	c.taskNS[task] = h
	return vpid, nil
}

// Unbind removes task from the namespace h, clearing both its virtual PID
// and namespace pointer.
func (c *Controller) Unbind(h Handle, task rtos.TaskID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookup(h)
	if err != nil {
		return err
	}
	bound, ok := c.taskNS[task]
	if !ok || bound != h {
		return ErrNotBoundHere
	}
	for i, te := range s.tasks {
		if te.task == task {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	s.taskCount--
	delete(c.taskNS, task)
	return nil
}

// FindTaskByVirtualPID scans only within namespace h, guaranteeing that the
// same virtual PID in two different namespaces never resolves to the same
// task.
func (c *Controller) FindTaskByVirtualPID(h Handle, vpid uint32) (rtos.TaskID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookup(h)
	if err != nil {
		return 0, false
	}
	for _, te := range s.tasks {
		if te.vpid == vpid {
			return te.task, true
		}
	}
	return 0, false
}

// NamespaceOf returns the namespace a task is bound to, defaulting to the
// root namespace if the task has never been bound.
func (c *Controller) NamespaceOf(task rtos.TaskID) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.taskNS[task]; ok {
		return h
	}
	return c.root
}

// TaskDelete is the scheduler's task-delete hook: it removes whatever
// namespace binding the task holds, if any.
func (c *Controller) TaskDelete(task rtos.TaskID) {
	c.mu.Lock()
	h, ok := c.taskNS[task]
	c.mu.Unlock()
	if !ok {
		return
	}
	_ = c.Unbind(h, task)
}

// ActiveCount reports how many namespace slots are currently in use
// (including the root namespace), for metrics collection.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.slots {
		if c.slots[i].active {
			n++
		}
	}
	return n
}
