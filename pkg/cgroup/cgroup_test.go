package cgroup

import (
	"testing"

	"github.com/lattice-rt/cage/pkg/rtos"
	"github.com/stretchr/testify/require"
)

func newTestController() *Controller {
	return New(Config{MaxCGroups: 4, MaxTasksPerCGroup: 4, WindowDuration: 300})
}

func TestCreateAndDelete(t *testing.T) {
	c := newTestController()

	h, err := c.Create("Hi", 16384, 300, 0)
	require.NoError(t, err)

	require.NoError(t, c.AddTask(h, 1))
	require.ErrorIs(t, c.Delete(h), ErrNotEmpty)

	require.NoError(t, c.RemoveTask(h, 1))
	require.NoError(t, c.Delete(h))
}

func TestCreateRejectsEmptyName(t *testing.T) {
	c := newTestController()
	_, err := c.Create("", SentinelNoLimit, CPUMax, 0)
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestCreateFailsAtCapacity(t *testing.T) {
	c := New(Config{MaxCGroups: 1, MaxTasksPerCGroup: 1})
	_, err := c.Create("a", SentinelNoLimit, CPUMax, 0)
	require.NoError(t, err)
	_, err = c.Create("b", SentinelNoLimit, CPUMax, 0)
	require.ErrorIs(t, err, ErrCapacity)
}

func TestSlotReuseAfterDelete(t *testing.T) {
	c := New(Config{MaxCGroups: 1, MaxTasksPerCGroup: 1})
	h1, err := c.Create("a", SentinelNoLimit, CPUMax, 0)
	require.NoError(t, err)
	require.NoError(t, c.Delete(h1))

	h2, err := c.Create("a", SentinelNoLimit, CPUMax, 0)
	require.NoError(t, err)

	// The stale handle must not alias the reused slot.
	_, err = c.GetStats(h1)
	require.ErrorIs(t, err, ErrUnknownHandle)
	_, err = c.GetStats(h2)
	require.NoError(t, err)
}

func TestAddTaskRejectsDoubleBind(t *testing.T) {
	c := newTestController()
	h1, _ := c.Create("a", SentinelNoLimit, CPUMax, 0)
	h2, _ := c.Create("b", SentinelNoLimit, CPUMax, 0)

	require.NoError(t, c.AddTask(h1, 1))
	require.ErrorIs(t, c.AddTask(h2, 1), ErrAlreadyBound)
}

func TestRemoveTaskWrongCGroup(t *testing.T) {
	c := newTestController()
	h1, _ := c.Create("a", SentinelNoLimit, CPUMax, 0)
	h2, _ := c.Create("b", SentinelNoLimit, CPUMax, 0)

	require.NoError(t, c.AddTask(h1, 1))
	require.ErrorIs(t, c.RemoveTask(h2, 1), ErrNotBoundHere)
}

func TestCheckMemory(t *testing.T) {
	c := newTestController()
	h, _ := c.Create("mem", 100, CPUMax, 0)
	require.NoError(t, c.AddTask(h, 1))

	require.True(t, c.CheckMemory(1, 100))
	require.False(t, c.CheckMemory(1, 101))

	// Unbound task always passes.
	require.True(t, c.CheckMemory(99, 1<<40))
}

func TestCheckMemorySentinelNoLimit(t *testing.T) {
	c := newTestController()
	h, _ := c.Create("unlimited", SentinelNoLimit, CPUMax, 0)
	require.NoError(t, c.AddTask(h, 1))
	require.True(t, c.CheckMemory(1, 1<<40))
}

func TestUpdateMemoryClampsAtZero(t *testing.T) {
	c := newTestController()
	h, _ := c.Create("mem", SentinelNoLimit, CPUMax, 0)
	require.NoError(t, c.AddTask(h, 1))

	require.NoError(t, c.UpdateMemory(1, 50))
	require.NoError(t, c.UpdateMemory(1, -1000))

	stats, err := c.GetStats(h)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.MemoryUsed)
	require.Equal(t, int64(50), stats.MemoryPeak)
}

func TestUpdateMemoryUnboundIsNoOp(t *testing.T) {
	c := newTestController()
	require.NoError(t, c.UpdateMemory(42, 100))
}

// TestCPUQuotaEnforcement verifies that a cgroup with a 300 tick quota
// over a 1000 tick window stops admitting its task once it has used its
// quota within the window.
func TestCPUQuotaEnforcement(t *testing.T) {
	c := New(Config{MaxCGroups: 1, MaxTasksPerCGroup: 1, WindowDuration: 1000})
	h, err := c.Create("Hi", 16384, 300, 0)
	require.NoError(t, err)
	require.NoError(t, c.AddTask(h, 1))

	var now rtos.Ticks
	for i := 0; i < 320; i++ {
		now++
		if c.CanRun(1) {
			c.Tick(now, 1)
		}
	}

	stats, err := c.GetStats(h)
	require.NoError(t, err)
	require.LessOrEqual(t, stats.TicksUsed, int64(300))
	require.GreaterOrEqual(t, stats.TicksUsed, int64(0.9*300))
}

func TestCanRunUnboundTaskAlwaysTrue(t *testing.T) {
	c := newTestController()
	require.True(t, c.CanRun(999))
}

func TestWindowRolloverAppliesPenalty(t *testing.T) {
	c := New(Config{MaxCGroups: 1, MaxTasksPerCGroup: 1, WindowDuration: 100})
	h, _ := c.Create("over", SentinelNoLimit, 10, 0)
	require.NoError(t, c.AddTask(h, 1))

	// Burn through quota without gating (simulate uncontrolled overshoot).
	var now rtos.Ticks
	for i := 0; i < 20; i++ {
		now++
		c.Tick(now, 1)
	}
	// Roll the window over.
	now += 100
	c.Tick(now, 1)

	stats, err := c.GetStats(h)
	require.NoError(t, err)
	require.Greater(t, stats.PenaltyTicksRemaining, int64(0))
	require.False(t, c.CanRun(1))
}

func TestSwitchOutRollsOverWindowWithoutDoubleCountingTicks(t *testing.T) {
	c := New(Config{MaxCGroups: 1, MaxTasksPerCGroup: 1, WindowDuration: 100})
	h, _ := c.Create("over", SentinelNoLimit, 10, 0)
	require.NoError(t, c.AddTask(h, 1))

	var now rtos.Ticks
	for i := 0; i < 20; i++ {
		now++
		c.Tick(now, 1)
	}
	beforeRollover, err := c.GetStats(h)
	require.NoError(t, err)
	require.Equal(t, int64(20), beforeRollover.TicksUsed)

	// Task is switched out past the window boundary without another Tick.
	now += 100
	c.SwitchOut(now, 1)

	stats, err := c.GetStats(h)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.TicksUsed)
	require.Greater(t, stats.PenaltyTicksRemaining, int64(0))
}

func TestSwitchOutUnboundTaskIsNoOp(t *testing.T) {
	c := newTestController()
	c.SwitchOut(1, 999)
}

func TestSwitchOutBeforeWindowBoundaryIsNoOp(t *testing.T) {
	c := New(Config{MaxCGroups: 1, MaxTasksPerCGroup: 1, WindowDuration: 100})
	h, _ := c.Create("fresh", SentinelNoLimit, 10, 0)
	require.NoError(t, c.AddTask(h, 1))

	c.Tick(1, 1)
	c.SwitchOut(2, 1)

	stats, err := c.GetStats(h)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TicksUsed)
	require.Equal(t, int64(0), stats.PenaltyTicksRemaining)
}

func TestCPUMaxNeverAccruesPenalty(t *testing.T) {
	c := New(Config{MaxCGroups: 1, MaxTasksPerCGroup: 1, WindowDuration: 10})
	h, _ := c.Create("unlimited-cpu", SentinelNoLimit, CPUMax, 0)
	require.NoError(t, c.AddTask(h, 1))

	var now rtos.Ticks
	for i := 0; i < 100; i++ {
		now++
		require.True(t, c.CanRun(1))
		c.Tick(now, 1)
	}
	stats, err := c.GetStats(h)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.PenaltyTicksRemaining)
}

func TestTotalMemoryAcrossGroups(t *testing.T) {
	c := newTestController()
	h1, _ := c.Create("a", SentinelNoLimit, CPUMax, 0)
	h2, _ := c.Create("b", SentinelNoLimit, CPUMax, 0)
	require.NoError(t, c.AddTask(h1, 1))
	require.NoError(t, c.AddTask(h2, 2))
	require.NoError(t, c.UpdateMemory(1, 10))
	require.NoError(t, c.UpdateMemory(2, 20))

	require.Equal(t, int64(30), c.TotalMemoryAcrossGroups())
}

func TestResetMemoryStats(t *testing.T) {
	c := newTestController()
	h, _ := c.Create("a", SentinelNoLimit, CPUMax, 0)
	require.NoError(t, c.AddTask(h, 1))
	require.NoError(t, c.UpdateMemory(1, 100))
	require.NoError(t, c.ResetMemoryStats(h))

	stats, err := c.GetStats(h)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.MemoryUsed)
	require.Equal(t, int64(0), stats.MemoryPeak)
}
