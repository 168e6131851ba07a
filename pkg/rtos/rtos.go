// Package rtos declares the narrow interfaces the isolation subsystem
// consumes from the host executive: the scheduler, the tick/clock source,
// task creation/deletion, and the blocking queue/semaphore primitives. The
// executive itself is treated as a given; this package exists only to give
// the rest of the module something concrete to depend on, and to provide
// one reference implementation (Sim) for tests.
package rtos

import (
	"context"
	"errors"
	"time"
)

// Ticks counts scheduler ticks since boot.
type Ticks uint64

// TaskID identifies a task across the lifetime of the process. Zero is
// never a valid task id.
type TaskID uint64

// Clock reports the current tick count.
type Clock interface {
	Now() Ticks
}

// Scheduler is the minimal surface the isolation subsystem needs from the
// host executive: create/delete tasks and identify the currently running
// one. Tick and task-switch-out notifications are not part of this
// interface — the host scheduler drives them directly against the cgroup
// controller it gets from container.Manager.CGroups(), via Tick and
// SwitchOut, since both are interrupt-context calls this package has no
// business wrapping.
type Scheduler interface {
	CurrentTask() TaskID
	CreateTask(fn func(ctx context.Context)) (TaskID, error)
	DeleteTask(id TaskID) error
}

var ErrTimeout = errors.New("rtos: operation timed out")

// Queue is a bounded blocking queue, as FreeRTOS xQueueSend/xQueueReceive.
// A zero timeout means non-blocking: return ErrTimeout immediately if the
// operation cannot complete.
type Queue interface {
	Send(ctx context.Context, v any, timeout time.Duration) error
	Receive(ctx context.Context, timeout time.Duration) (any, error)
}

// Semaphore is a counting or binary semaphore, as FreeRTOS xSemaphoreTake/Give.
type Semaphore interface {
	Take(ctx context.Context, timeout time.Duration) error
	Give() error
}

// Mutex is a semaphore with a single owner slot (a binary semaphore used
// for mutual exclusion rather than signalling).
type Mutex interface {
	Lock(ctx context.Context, timeout time.Duration) error
	Unlock() error
}

// EventGroup is a set of named bits that tasks can wait on.
type EventGroup interface {
	SetBits(bits uint32) uint32
	ClearBits(bits uint32) uint32
	WaitBits(ctx context.Context, bits uint32, clearOnExit bool, waitForAll bool, timeout time.Duration) (uint32, error)
}

// Gate is a single-shot synchronization primitive: Release may be called
// exactly once; Wait blocks until it has been called (or ctx is cancelled).
type Gate struct {
	ch chan struct{}
}

// NewGate returns a gate that has not yet been released.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Release unblocks every current and future Wait call. Calling Release more
// than once is a programmer error and will panic.
func (g *Gate) Release() {
	close(g.ch)
}

// Wait blocks until Release has been called or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
