// Package ipcns implements the IPC Namespace Controller: a registry of IPC
// objects (queues, semaphores, mutexes, event groups) tagged by owning
// namespace, with an access check that lets the distinguished root
// namespace observe objects in any namespace.
package ipcns

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrCapacity      = errors.New("ipcns: no free namespace slot")
	ErrInvalidName   = errors.New("ipcns: name must not be empty")
	ErrNotEmpty      = errors.New("ipcns: cannot delete, object-count > 0")
	ErrUnknownHandle = errors.New("ipcns: stale or unknown handle")
	ErrRootNamespace = errors.New("ipcns: root namespace cannot be deleted")
	ErrObjectFull    = errors.New("ipcns: namespace has reached its object capacity")
	ErrNilObject     = errors.New("ipcns: object must not be nil")
	ErrNotFound      = errors.New("ipcns: object not registered in this namespace")
)

// Handle is a generation-checked reference to an IPC namespace slot.
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) String() string { return fmt.Sprintf("ipcns#%d.%d", h.index, h.generation) }

// Kind enumerates the IPC primitive types an entry can tag.
type Kind int

const (
	KindQueue Kind = iota
	KindSemaphore
	KindMutex
	KindEventGroup
)

// entry is an IPC object entry: an owner namespace, an opaque object
// reference, its kind, name, and per-namespace id.
type entry struct {
	object any
	kind   Kind
	name   string
	id     uint64
	owner  Handle
}

type slot struct {
	active       bool
	generation   uint32
	name         string
	id           uint64
	nextObjectID uint64
	objects      []entry
}

// Controller owns the fixed-size table of IPC namespaces plus the flat
// object registry. Namespace 0 is the always-present root namespace with
// administrative override over access checks.
type Controller struct {
	mu            sync.Mutex
	slots         []slot
	maxObjectsPer int
	nextNS        uint64
	root          Handle

	// byObject lets Unregister and CheckAccess find an entry's namespace in
	// O(1) without scanning every namespace's object list.
	byObject map[any]Handle
}

// Config tunes the controller's fixed-size tables.
type Config struct {
	MaxNamespaces        int
	MaxObjectsPerNamespace int
}

// New allocates a controller and its always-present root namespace.
func New(cfg Config) *Controller {
	c := &Controller{
		slots:         make([]slot, cfg.MaxNamespaces),
		maxObjectsPer: cfg.MaxObjectsPerNamespace,
		byObject:      make(map[any]Handle),
	}
	h, err := c.create("root")
	if err != nil {
		panic("ipcns: controller configured with no room for the root namespace")
	}
	c.root = h
	return c
}

// Root returns the handle of the always-present root namespace.
func (c *Controller) Root() Handle { return c.root }

// Create allocates a new, non-root IPC namespace.
func (c *Controller) Create(name string) (Handle, error) {
	if name == "" {
		return Handle{}, ErrInvalidName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.create(name)
}

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
			objects:    make([]entry, 0, 8),
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

// Delete removes a non-root, empty namespace. The caller is responsible
// for unregistering every object first.
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
	if len(s.objects) > 0 {
		return ErrNotEmpty
	}
	*s = slot{generation: s.generation}
	return nil
}

// Register tags object as owned by namespace h. The caller must already
// have constructed object via the scheduler's normal constructor;
// registration only adds the namespace tag. Failure leaves no trace in
// the registry — the caller is responsible for deleting the underlying
// object to preserve creation atomicity.
func (c *Controller) Register(h Handle, kind Kind, name string, object any) (id uint64, err error) {
	if object == nil {
		return 0, ErrNilObject
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookup(h)
	if err != nil {
		return 0, err
	}
	if len(s.objects) >= c.maxObjectsPer {
		return 0, ErrObjectFull
	}

	s.nextObjectID++
	id = s.nextObjectID
	s.objects = append(s.objects, entry{object: object, kind: kind, name: name, id: id, owner: h})
	c.byObject[object] = h
	return id, nil
}

// Unregister removes object's registry entry, if any.
func (c *Controller) Unregister(object any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.byObject[object]
	if !ok {
		return ErrNotFound
	}
	s, err := c.lookup(h)
	if err != nil {
		delete(c.byObject, object)
		return nil
	}
	for i := range s.objects {
		if s.objects[i].object == object {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			break
		}
	}
	delete(c.byObject, object)
	return nil
}

// CheckAccess: if object was never registered, access is allowed
// (legacy/compatibility path); otherwise access is allowed iff task's
// namespace matches the entry's owner, or task's namespace is root.
func (c *Controller) CheckAccess(taskNS Handle, object any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, ok := c.byObject[object]
	if !ok {
		return true
	}
	return taskNS == owner || taskNS == c.root
}

// ObjectCount reports how many objects are registered under h.
func (c *Controller) ObjectCount(h Handle) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(h)
	if err != nil {
		return 0, err
	}
	return len(s.objects), nil
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
