package container

import (
	"fmt"

	"github.com/lattice-rt/cage/pkg/ipcns"
	"github.com/lattice-rt/cage/pkg/rtos"
)

// callerNamespace resolves a running container task back to the IPC
// namespace its wrapper task recorded in taskIPCNS at Start.
func (m *Manager) callerNamespace(caller rtos.TaskID) (ipcns.Handle, error) {
	v, ok := m.taskIPCNS.Load(caller)
	if !ok {
		return ipcns.Handle{}, fmt.Errorf("container: task %d has no IPC namespace (not a running container task)", caller)
	}
	return v.(ipcns.Handle), nil
}

// CreateIsolatedQueue is the IPC namespace controller's isolated
// constructor for queues: it builds the object via the scheduler's normal
// primitive, then registers it under caller's current namespace. A
// registration failure leaves the queue unregistered and unreturned,
// which is the rollback — nothing else references it, so it is simply
// garbage.
func (m *Manager) CreateIsolatedQueue(caller rtos.TaskID, name string, capacity int) (rtos.Queue, error) {
	ns, err := m.callerNamespace(caller)
	if err != nil {
		return nil, err
	}
	q := rtos.NewChanQueue(capacity)
	if _, err := m.ipcns.Register(ns, ipcns.KindQueue, name, q); err != nil {
		return nil, err
	}
	return q, nil
}

// CreateIsolatedSemaphore is the isolated constructor for counting
// semaphores.
func (m *Manager) CreateIsolatedSemaphore(caller rtos.TaskID, name string, count int) (rtos.Semaphore, error) {
	ns, err := m.callerNamespace(caller)
	if err != nil {
		return nil, err
	}
	s := rtos.NewChanSemaphore(count)
	if _, err := m.ipcns.Register(ns, ipcns.KindSemaphore, name, s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateIsolatedMutex is the isolated constructor for mutexes.
func (m *Manager) CreateIsolatedMutex(caller rtos.TaskID, name string) (rtos.Mutex, error) {
	ns, err := m.callerNamespace(caller)
	if err != nil {
		return nil, err
	}
	mu := rtos.NewChanMutex()
	if _, err := m.ipcns.Register(ns, ipcns.KindMutex, name, mu); err != nil {
		return nil, err
	}
	return mu, nil
}

// CreateIsolatedEventGroup is the isolated constructor for event groups.
func (m *Manager) CreateIsolatedEventGroup(caller rtos.TaskID, name string) (rtos.EventGroup, error) {
	ns, err := m.callerNamespace(caller)
	if err != nil {
		return nil, err
	}
	eg := rtos.NewChanEventGroup()
	if _, err := m.ipcns.Register(ns, ipcns.KindEventGroup, name, eg); err != nil {
		return nil, err
	}
	return eg, nil
}

// CheckIPCAccess is the per-task access check: it resolves caller's
// current IPC namespace and asks the registry whether object is visible
// from it. An unknown caller (no running container task) is treated as
// root-namespace, unlike the isolated constructors above, which reject
// such a caller through callerNamespace; this covers the CLI's own
// in-place "run" task, which never joins a container's IPC namespace.
func (m *Manager) CheckIPCAccess(caller rtos.TaskID, object any) bool {
	ns, err := m.callerNamespace(caller)
	if err != nil {
		ns = m.ipcns.Root()
	}
	return m.ipcns.CheckAccess(ns, object)
}
