// Package cgroup implements the CGroup Controller: a fixed-size table of
// resource-accounting groups providing memory-usage gating and a
// sliding-window CPU-tick quota with penalty scheduling.
//
// Unlike Linux cgroups, there is no kernel here to enforce anything — the
// controller is purely advisory bookkeeping that the host scheduler must
// consult (via CanRun) before running a task, and must drive (via Tick) on
// every scheduler tick. It is polled rather than push-notified, the same
// way pkg/metrics.Collector polls container state.
package cgroup

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lattice-rt/cage/internal/log"
	"github.com/lattice-rt/cage/pkg/rtos"
)

// SentinelNoLimit disables memory gating for a cgroup.
const SentinelNoLimit int64 = -1

// CPUMax disables CPU-quota gating for a cgroup.
const CPUMax int64 = -1

var (
	ErrCapacity       = errors.New("cgroup: no free slot")
	ErrInvalidName    = errors.New("cgroup: name must not be empty")
	ErrNotEmpty       = errors.New("cgroup: cannot delete, task-count > 0")
	ErrUnknownHandle  = errors.New("cgroup: stale or unknown handle")
	ErrAlreadyBound   = errors.New("cgroup: task already bound to a cgroup")
	ErrBindingFull    = errors.New("cgroup: task<->cgroup binding table full")
	ErrNotBoundHere   = errors.New("cgroup: task not bound to this cgroup")
)

// Handle is a strongly typed, generation-checked reference to a cgroup
// slot (an opaque handle backed by a generation-checked index rather than
// a raw pointer, so a stale handle to a reused slot is detected).
type Handle struct {
	index      uint32
	generation uint32
}

// Stats is a read-only snapshot of a cgroup's accounting state.
type Stats struct {
	Name                  string
	MemoryLimit           int64
	MemoryUsed            int64
	MemoryPeak            int64
	CPUQuota              int64
	TicksUsed             int64
	PenaltyTicksRemaining int64
	WindowStart           rtos.Ticks
	WindowDuration        rtos.Ticks
	TaskCount             int
}

type slot struct {
	active     bool
	generation uint32

	name       string
	memLimit   int64
	memUsed    int64
	memPeak    int64

	cpuQuota       int64
	ticksUsed      int64
	penaltyTicks   int64
	windowStart    rtos.Ticks
	windowDuration rtos.Ticks

	taskCount int
}

// Controller owns a fixed-size table of cgroups and the global task<->cgroup
// binding map.
type Controller struct {
	mu    sync.Mutex
	slots []slot

	maxTasksPerCGroup int
	penaltyMultiplier float64
	defaultWindow     rtos.Ticks

	bindings    map[rtos.TaskID]Handle
	maxBindings int
}

// Config tunes the controller's fixed-size tables; see internal/config.
type Config struct {
	MaxCGroups        int
	MaxTasksPerCGroup int
	// WindowDuration is the default sliding-window length for new cgroups.
	WindowDuration rtos.Ticks
	// PenaltyMultiplier scales the excess->penalty conversion in Tick.
	// Penalty accrues as excess*window/quota; a multiplier of 1.0 reproduces
	// that exactly.
	PenaltyMultiplier float64
}

// New allocates a controller with the given fixed capacity.
func New(cfg Config) *Controller {
	if cfg.PenaltyMultiplier == 0 {
		cfg.PenaltyMultiplier = 1.0
	}
	window := cfg.WindowDuration
	if window == 0 {
		window = defaultWindow
	}
	return &Controller{
		slots:             make([]slot, cfg.MaxCGroups),
		maxTasksPerCGroup: cfg.MaxTasksPerCGroup,
		penaltyMultiplier: cfg.PenaltyMultiplier,
		defaultWindow:     window,
		bindings:          make(map[rtos.TaskID]Handle),
		maxBindings:       cfg.MaxCGroups * cfg.MaxTasksPerCGroup,
	}
}

// defaultWindow is used when a Controller wasn't given one explicitly.
const defaultWindow = rtos.Ticks(1000)

// Create allocates a cgroup slot. memoryLimit=SentinelNoLimit disables
// memory gating; cpuQuota=CPUMax disables CPU gating.
func (c *Controller) Create(name string, memoryLimit, cpuQuota int64, now rtos.Ticks) (Handle, error) {
	if name == "" {
		return Handle{}, ErrInvalidName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		if c.slots[i].active {
			continue
		}
		window := c.defaultWindow
		c.slots[i] = slot{
			active:         true,
			generation:     c.slots[i].generation + 1,
			name:           name,
			memLimit:       memoryLimit,
			cpuQuota:       cpuQuota,
			windowStart:    now,
			windowDuration: window,
		}
		h := Handle{index: uint32(i), generation: c.slots[i].generation}
		log.WithComponent("cgroup").Debug().Str("name", name).Msg("cgroup created")
		return h, nil
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

// Delete frees a cgroup slot. Fails if the cgroup still has bound tasks.
func (c *Controller) Delete(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

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

// AddTask binds task to the cgroup identified by h.
func (c *Controller) AddTask(h Handle, task rtos.TaskID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookup(h)
	if err != nil {
		return err
	}
	if _, bound := c.bindings[task]; bound {
		return ErrAlreadyBound
	}
	if len(c.bindings) >= c.maxBindings {
		return ErrBindingFull
	}
	c.bindings[task] = h
	s.taskCount++
	return nil
}

// RemoveTask unbinds task from the cgroup identified by h. Fails if task is
// bound to a different cgroup (it is not an error in the global sense — the
// task may simply belong elsewhere).
func (c *Controller) RemoveTask(h Handle, task rtos.TaskID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookup(h)
	if err != nil {
		return err
	}
	bound, ok := c.bindings[task]
	if !ok || bound != h {
		return ErrNotBoundHere
	}
	delete(c.bindings, task)
	s.taskCount--
	return nil
}

// CheckMemory reports whether task may allocate size additional bytes.
// An unbound task, or a cgroup with SentinelNoLimit, always passes.
func (c *Controller) CheckMemory(task rtos.TaskID, size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, bound := c.bindings[task]
	if !bound {
		return true
	}
	s, err := c.lookup(h)
	if err != nil {
		return true
	}
	if s.memLimit == SentinelNoLimit {
		return true
	}
	return s.memUsed+size <= s.memLimit
}

// UpdateMemory applies a signed delta to the bound cgroup's memory-used
// counter, clamping at zero. A no-op (success) for an unbound task.
func (c *Controller) UpdateMemory(task rtos.TaskID, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, bound := c.bindings[task]
	if !bound {
		return nil
	}
	s, err := c.lookup(h)
	if err != nil {
		return nil
	}
	s.memUsed += delta
	if s.memUsed < 0 {
		s.memUsed = 0
	}
	if s.memUsed > s.memPeak {
		s.memPeak = s.memUsed
	}
	return nil
}

// CanRun is the scheduler admission hook: call before running a task bound
// to this cgroup.
func (c *Controller) CanRun(task rtos.TaskID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, bound := c.bindings[task]
	if !bound {
		return true
	}
	s, err := c.lookup(h)
	if err != nil {
		return true
	}
	if s.penaltyTicks > 0 {
		return false
	}
	return s.cpuQuota == CPUMax || s.ticksUsed < s.cpuQuota
}

// Tick is the per-tick accounting hook. It must be
// called exactly once per scheduler tick with the task considered to be
// currently running. It performs no I/O and no unbounded loop: a single
// map lookup plus a fixed-size window-rollover computation.
func (c *Controller) Tick(now rtos.Ticks, running rtos.TaskID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, bound := c.bindings[running]
	if !bound {
		return
	}
	s, err := c.lookup(h)
	if err != nil {
		return
	}

	s.ticksUsed++

	if now-s.windowStart >= s.windowDuration {
		c.rollover(s, now)
		return
	}

	if s.penaltyTicks > 0 {
		s.penaltyTicks--
	}
}

// SwitchOut is the per-task-switch-out accounting hook, the second of the
// two entry points the host scheduler drives (the other is Tick). It runs
// the same window-rollover check Tick does, so a cgroup whose only bound
// task is switched out right at a window boundary has its window rolled
// over (excess converted to penalty, ticks-used reset) without waiting for
// the next tick. It never increments ticksUsed, since Tick already
// accounts for ticks actually spent running.
func (c *Controller) SwitchOut(now rtos.Ticks, task rtos.TaskID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, bound := c.bindings[task]
	if !bound {
		return
	}
	s, err := c.lookup(h)
	if err != nil {
		return
	}
	if now-s.windowStart >= s.windowDuration {
		c.rollover(s, now)
	}
}

// rollover applies the window-expiry penalty computation.
// Caller holds c.mu.
func (c *Controller) rollover(s *slot, now rtos.Ticks) {
	if s.cpuQuota != CPUMax {
		excess := s.ticksUsed - s.cpuQuota
		if excess > 0 {
			add := float64(excess) * float64(s.windowDuration) / float64(s.cpuQuota)
			s.penaltyTicks += int64(add * c.penaltyMultiplier)
		}
	}
	s.ticksUsed = 0
	s.windowStart = now
}

// GetStats returns a snapshot of the named cgroup's accounting state.
func (c *Controller) GetStats(h Handle) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookup(h)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Name: s.name, MemoryLimit: s.memLimit, MemoryUsed: s.memUsed, MemoryPeak: s.memPeak,
		CPUQuota: s.cpuQuota, TicksUsed: s.ticksUsed, PenaltyTicksRemaining: s.penaltyTicks,
		WindowStart: s.windowStart, WindowDuration: s.windowDuration, TaskCount: s.taskCount,
	}, nil
}

// SetMemoryLimit updates a cgroup's memory limit.
func (c *Controller) SetMemoryLimit(h Handle, limit int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(h)
	if err != nil {
		return err
	}
	s.memLimit = limit
	return nil
}

// SetCPUQuota updates a cgroup's CPU quota (ticks per window).
func (c *Controller) SetCPUQuota(h Handle, quota int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(h)
	if err != nil {
		return err
	}
	s.cpuQuota = quota
	return nil
}

// ResetMemoryStats zeroes used/peak memory counters without touching the limit.
func (c *Controller) ResetMemoryStats(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(h)
	if err != nil {
		return err
	}
	s.memUsed = 0
	s.memPeak = 0
	return nil
}

// TotalMemoryAcrossGroups sums memory-used over every active cgroup.
func (c *Controller) TotalMemoryAcrossGroups() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for i := range c.slots {
		if c.slots[i].active {
			total += c.slots[i].memUsed
		}
	}
	return total
}

// BoundCGroup reports the cgroup task is currently bound to, if any.
func (c *Controller) BoundCGroup(task rtos.TaskID) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.bindings[task]
	return h, ok
}

func (h Handle) String() string {
	return fmt.Sprintf("cgroup#%d.%d", h.index, h.generation)
}

// ActiveCount reports how many cgroup slots are currently in use, for
// metrics collection.
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
