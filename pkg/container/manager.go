package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/lattice-rt/cage/internal/config"
	"github.com/lattice-rt/cage/internal/log"
	"github.com/lattice-rt/cage/pkg/cgroup"
	"github.com/lattice-rt/cage/pkg/flash"
	"github.com/lattice-rt/cage/pkg/fsview"
	imagepkg "github.com/lattice-rt/cage/pkg/image"
	"github.com/lattice-rt/cage/pkg/ipcns"
	"github.com/lattice-rt/cage/pkg/loader"
	"github.com/lattice-rt/cage/pkg/pidns"
	"github.com/lattice-rt/cage/pkg/rtos"
)

// ImagesDir is the canonical image store.
const ImagesDir = "/var/container/images"

// Container is the struct-of-record: an identifier, display name,
// lifecycle state, nullable task handle, entry-image/binary names, root
// directory, the three resource handles, and resource limits. The
// intrusive "next" link lives in the manager's private list node rather
// than on this exported type, so callers holding a *Container never
// observe list-splicing races.
type Container struct {
	ID          uint64
	Name        string
	State       State
	TaskID      rtos.TaskID // non-zero only while State is RUNNING
	EntryImage  string
	EntryBinary string
	RootDir     string
	MemoryLimit int64
	CPUQuota    int64

	cgroupHandle cgroup.Handle
	pidnsHandle  pidns.Handle
	ipcnsHandle  ipcns.Handle
}

type node struct {
	c    *Container
	next *node
}

// Manager owns the container list and the subordinate controllers it
// composes. A single mutex guards the linked list, the id counter, and
// every container's state field.
type Manager struct {
	mu     sync.Mutex
	head   *node
	nextID uint64
	count  int

	limits config.Limits

	cgroups *cgroup.Controller
	pidns   *pidns.Controller
	ipcns   *ipcns.Controller
	fs      *fsview.View
	store   flash.Store
	sched   rtos.Scheduler
	clock   rtos.Clock
	loader  loader.Loader

	// taskIPCNS maps rtos.TaskID -> ipcns.Handle, set by the wrapper task
	// on Start and cleared on Stop. ipc.go's isolated constructors and
	// CheckIPCAccess read it to resolve a running container task back to
	// the namespace it should create/access objects under.
	taskIPCNS sync.Map
}

// New wires a Manager from its subordinate controllers. Callers own the
// lifetime of store, sched, clock and ld; Manager only holds references.
func New(limits config.Limits, sched rtos.Scheduler, clock rtos.Clock, store flash.Store, ld loader.Loader) *Manager {
	return &Manager{
		limits:  limits,
		cgroups: cgroup.New(cgroup.Config{MaxCGroups: limits.MaxCGroups, MaxTasksPerCGroup: limits.MaxTasksPerCGroup, WindowDuration: rtos.Ticks(limits.CGroupWindow), PenaltyMultiplier: limits.CGroupPenaltyMultiplier}),
		pidns:   pidns.New(pidns.Config{MaxNamespaces: limits.MaxPIDNamespaces, MaxVirtualPID: limits.MaxVirtualPID}),
		ipcns:   ipcns.New(ipcns.Config{MaxNamespaces: limits.MaxIPCNamespaces, MaxObjectsPerNamespace: limits.MaxIPCObjectsPerNS}),
		fs:      fsview.New(store),
		store:   store,
		sched:   sched,
		clock:   clock,
		loader:  ld,
	}
}

// CGroups exposes the cgroup controller so the host scheduler can drive
// Tick/SwitchOut/CanRun directly from its own interrupt context — the
// manager itself never calls them.
func (m *Manager) CGroups() *cgroup.Controller { return m.cgroups }

// FS exposes the filesystem view so a CLI's "ls"/"pwd" commands (outside
// the container lifecycle) can use the same chroot-aware path rewriting.
func (m *Manager) FS() *fsview.View { return m.fs }

// PIDNamespaces and IPCNamespaces expose the subordinate namespace
// controllers for metrics collection.
func (m *Manager) PIDNamespaces() *pidns.Controller { return m.pidns }
func (m *Manager) IPCNamespaces() *ipcns.Controller { return m.ipcns }

// CGroupStats returns the accounting snapshot for id's cgroup.
func (m *Manager) CGroupStats(id uint64) (cgroup.Stats, error) {
	m.mu.Lock()
	n := m.find(id)
	m.mu.Unlock()
	if n == nil {
		return cgroup.Stats{}, ErrNotFound
	}
	return m.cgroups.GetStats(n.c.cgroupHandle)
}

func (m *Manager) find(id uint64) *node {
	for n := m.head; n != nil; n = n.next {
		if n.c.ID == id {
			return n
		}
	}
	return nil
}

// Create performs the dependency-ordered construction: cgroup, then PID
// namespace, then IPC namespace, then image unpack. Any step failure
// unwinds everything already constructed before returning.
func (m *Manager) Create(name, image, program string, memoryLimit, cpuQuota int64) (*Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limits.MaxContainers > 0 && m.count >= m.limits.MaxContainers {
		return nil, ErrCapacity
	}

	id := m.nextID + 1
	lg := log.WithComponent("container")

	cg, err := m.cgroups.Create(name, memoryLimit, cpuQuota, m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("container: create cgroup: %w", err)
	}

	pns, err := m.pidns.Create(name)
	if err != nil {
		_ = m.cgroups.Delete(cg)
		return nil, fmt.Errorf("container: create pid namespace: %w", err)
	}

	ins, err := m.ipcns.Create(name)
	if err != nil {
		_ = m.pidns.Delete(pns)
		_ = m.cgroups.Delete(cg)
		return nil, fmt.Errorf("container: create ipc namespace: %w", err)
	}

	imagePath := ImagesDir + "/" + image
	if err := imagepkg.Unpack(m.store, imagePath, id); err != nil {
		_ = m.ipcns.Delete(ins)
		_ = m.pidns.Delete(pns)
		_ = m.cgroups.Delete(cg)
		return nil, fmt.Errorf("container: unpack image: %w", err)
	}

	c := &Container{
		ID:           id,
		Name:         truncateName(name),
		State:        StateStopped,
		EntryImage:   image,
		EntryBinary:  program,
		RootDir:      rootDirFor(id),
		MemoryLimit:  memoryLimit,
		CPUQuota:     cpuQuota,
		cgroupHandle: cg,
		pidnsHandle:  pns,
		ipcnsHandle:  ins,
	}
	m.head = &node{c: c, next: m.head}
	m.nextID = id
	m.count++

	lg.Info().Uint64("id", id).Str("name", name).Msg("container created")
	return c, nil
}

// Start creates the wrapper task bound to the container's PID namespace
// and cgroup, then releases the startup gate. The wrapper itself applies
// the IPC namespace, verifies membership, chroots, loads the ELF and
// invokes the loader; any failure there transitions the container to
// ERROR from inside the wrapper goroutine.
func (m *Manager) Start(id uint64) error {
	m.mu.Lock()
	n := m.find(id)
	if n == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	c := n.c
	if c.State != StateStopped {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> RUNNING", ErrInvalidTransition, c.State)
	}
	m.mu.Unlock()

	gate := rtos.NewGate()

	taskID, err := m.sched.CreateTask(func(ctx context.Context) {
		m.runWrapper(ctx, c, gate)
	})
	if err != nil {
		return fmt.Errorf("container: create task: %w", err)
	}

	if _, err := m.pidns.Bind(c.pidnsHandle, taskID); err != nil {
		_ = m.sched.DeleteTask(taskID)
		return fmt.Errorf("container: bind pid namespace: %w", err)
	}
	if err := m.cgroups.AddTask(c.cgroupHandle, taskID); err != nil {
		_ = m.pidns.Unbind(c.pidnsHandle, taskID)
		_ = m.sched.DeleteTask(taskID)
		return fmt.Errorf("container: join cgroup: %w", err)
	}

	m.mu.Lock()
	c.TaskID = taskID
	c.State = StateRunning
	m.mu.Unlock()

	gate.Release()
	return nil
}

// runWrapper is the container's entrypoint task body: apply the IPC
// namespace, verify cgroup/pidns membership, chroot, load the ELF, invoke
// the loader. It runs in the new task's own goroutine context, which is
// the reason namespace self-application happens here rather than in Start.
func (m *Manager) runWrapper(ctx context.Context, c *Container, gate *rtos.Gate) {
	if err := gate.Wait(ctx); err != nil {
		return
	}

	lg := log.WithComponent("container").With().Uint64("id", c.ID).Logger()
	taskID := c.TaskID

	m.taskIPCNS.Store(taskID, c.ipcnsHandle)

	if h, ok := m.cgroups.BoundCGroup(taskID); !ok || h != c.cgroupHandle {
		m.fail(c, taskID, "cgroup membership verification failed")
		return
	}
	if m.pidns.NamespaceOf(taskID) != c.pidnsHandle {
		m.fail(c, taskID, "pid namespace membership verification failed")
		return
	}

	if err := m.fs.Chroot(taskID, c.RootDir); err != nil {
		m.fail(c, taskID, "chroot failed: "+err.Error())
		return
	}

	elf, err := m.fs.ReadFile(taskID, "/"+c.EntryBinary)
	if err != nil {
		m.fail(c, taskID, "load entrypoint failed: "+err.Error())
		return
	}

	if err := m.loader.Load(ctx, elf, loader.LoadArgs{ContainerID: c.ID, Path: c.EntryBinary}); err != nil {
		m.fail(c, taskID, "loader failed: "+err.Error())
		return
	}

	lg.Info().Msg("container entrypoint exited, stopping")
	m.finishTask(c, taskID)
	m.mu.Lock()
	c.State = StateStopped
	c.TaskID = 0
	m.mu.Unlock()
}

// fail transitions c to ERROR and self-deletes its task.
func (m *Manager) fail(c *Container, taskID rtos.TaskID, reason string) {
	log.WithComponent("container").With().Uint64("id", c.ID).Logger().Error().Str("reason", reason).Msg("container entering ERROR state")
	m.finishTask(c, taskID)
	m.mu.Lock()
	c.State = StateError
	c.TaskID = 0
	m.mu.Unlock()
}

// finishTask unwinds every resource-controller binding for taskID and
// deletes it from the scheduler. Safe to call more than once.
func (m *Manager) finishTask(c *Container, taskID rtos.TaskID) {
	m.taskIPCNS.Delete(taskID)
	_ = m.cgroups.RemoveTask(c.cgroupHandle, taskID)
	m.pidns.TaskDelete(taskID)
	m.fs.TaskDelete(taskID)
	_ = m.sched.DeleteTask(taskID)
}

// Stop transitions a RUNNING container to STOPPED and deletes its task.
// Idempotent calls against an already-stopped container fail.
func (m *Manager) Stop(id uint64) error {
	m.mu.Lock()
	n := m.find(id)
	if n == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	c := n.c
	if c.State != StateRunning {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> STOPPED", ErrInvalidTransition, c.State)
	}
	taskID := c.TaskID
	c.State = StateStopped
	c.TaskID = 0
	m.mu.Unlock()

	m.finishTask(c, taskID)
	return nil
}

// Delete stops the container if running, detaches it from the list, then
// releases its three resource handles. Callable on a stopped or errored
// container; illegal ids fail without side effect.
func (m *Manager) Delete(id uint64) error {
	m.mu.Lock()
	n := m.find(id)
	if n == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	running := n.c.State == StateRunning
	m.mu.Unlock()

	if running {
		if err := m.Stop(id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n = m.find(id)
	if n == nil {
		return ErrNotFound
	}
	c := n.c
	if c.State != StateStopped && c.State != StateError {
		return fmt.Errorf("%w: cannot delete from %s", ErrInvalidTransition, c.State)
	}

	m.detach(id)

	_ = m.pidns.Delete(c.pidnsHandle)
	_ = m.ipcns.Delete(c.ipcnsHandle)
	_ = m.cgroups.Delete(c.cgroupHandle)
	return nil
}

// detach removes id's node from the list. Caller holds m.mu.
func (m *Manager) detach(id uint64) {
	var prev *node
	for n := m.head; n != nil; n = n.next {
		if n.c.ID == id {
			if prev == nil {
				m.head = n.next
			} else {
				prev.next = n.next
			}
			m.count--
			return
		}
	}
}

// Get returns a copy of the container record for id.
func (m *Manager) Get(id uint64) (Container, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.find(id)
	if n == nil {
		return Container{}, false
	}
	return *n.c, true
}

// List returns a snapshot of every container, oldest-created last (the
// list is prepended on Create).
func (m *Manager) List() []Container {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Container, 0, m.count)
	for n := m.head; n != nil; n = n.next {
		out = append(out, *n.c)
	}
	return out
}
