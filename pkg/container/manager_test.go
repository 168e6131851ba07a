package container

import (
	"context"
	"testing"
	"time"

	"github.com/lattice-rt/cage/internal/config"
	"github.com/lattice-rt/cage/pkg/cgroup"
	"github.com/lattice-rt/cage/pkg/flash"
	imagepkg "github.com/lattice-rt/cage/pkg/image"
	"github.com/lattice-rt/cage/pkg/loader"
	"github.com/lattice-rt/cage/pkg/rtos"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) (*Manager, *loader.Fake, *rtos.Sim) {
	t.Helper()
	store := flash.NewMemStore()
	require.NoError(t, store.Mkdir("/var"))
	require.NoError(t, store.Mkdir("/var/container"))
	require.NoError(t, store.Mkdir(ImagesDir))

	data, err := imagepkg.Encode([]imagepkg.File{{Name: "entrypoint", Data: []byte{0x7f, 'E', 'L', 'F'}}})
	require.NoError(t, err)
	require.NoError(t, store.WriteFile(ImagesDir+"/hello", data))

	sim := rtos.NewSim()
	fake := loader.NewFake()
	limits := config.Default()
	limits.MaxContainers = 4
	m := New(limits, sim, sim, store, fake)
	return m, fake, sim
}

func TestCreateUnpacksImage(t *testing.T) {
	m, _, _ := testManager(t)
	c, err := m.Create("hello", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)
	require.Equal(t, uint64(1), c.ID)
	require.Equal(t, StateStopped, c.State)
	require.Equal(t, "/var/container/1", c.RootDir)
}

func TestCreateRollsBackOnUnpackFailure(t *testing.T) {
	m, _, _ := testManager(t)
	_, err := m.Create("bad", "does-not-exist", "entrypoint", 1<<20, cgroup.CPUMax)
	require.Error(t, err)

	// The cgroup/pidns/ipcns capacity must be fully reclaimed.
	for i := 0; i < m.limits.MaxCGroups; i++ {
		if _, err := m.cgroups.Create("probe", cgroup.SentinelNoLimit, cgroup.CPUMax, 0); err == nil {
			return
		}
	}
	t.Fatal("cgroup capacity was not reclaimed after rollback")
}

func TestCreateRespectsMaxContainers(t *testing.T) {
	m, _, _ := testManager(t)
	for i := 0; i < 4; i++ {
		_, err := m.Create("hello", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
		require.NoError(t, err)
	}
	_, err := m.Create("hello", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.ErrorIs(t, err, ErrCapacity)
}

func TestStartRunsToCompletionAndStops(t *testing.T) {
	m, fake, _ := testManager(t)
	c, err := m.Create("hello", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)

	require.NoError(t, m.Start(c.ID))

	require.Eventually(t, func() bool {
		got, ok := m.Get(c.ID)
		return ok && got.State == StateStopped
	}, time.Second, time.Millisecond)

	invocations := fake.Invocations()
	require.Len(t, invocations, 1)
	require.Equal(t, c.ID, invocations[0].Args.ContainerID)
	require.Equal(t, 4, invocations[0].ELFSize)
}

func TestStartAfterCompletionIsLegal(t *testing.T) {
	m, _, _ := testManager(t)
	c, err := m.Create("hello", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)
	require.NoError(t, m.Start(c.ID))

	require.Eventually(t, func() bool {
		got, ok := m.Get(c.ID)
		return ok && got.State == StateStopped
	}, time.Second, time.Millisecond)

	// Already stopped again (ran to completion); a second Start is legal.
	require.NoError(t, m.Start(c.ID))
}

func TestStartMissingEntrypointEntersError(t *testing.T) {
	m, _, _ := testManager(t)
	c, err := m.Create("hello", "hello", "no-such-binary", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)
	require.NoError(t, m.Start(c.ID))

	require.Eventually(t, func() bool {
		got, ok := m.Get(c.ID)
		return ok && got.State == StateError
	}, time.Second, time.Millisecond)
}

func TestStartWhileRunningFails(t *testing.T) {
	m, fake, _ := testManager(t)
	fake.Block = make(chan struct{}) // holds the wrapper at the loader call until closed
	defer close(fake.Block)

	c, err := m.Create("hello", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)
	require.NoError(t, m.Start(c.ID))

	err = m.Start(c.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStopIdempotentAgainstStopped(t *testing.T) {
	m, _, _ := testManager(t)
	c, err := m.Create("hello", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)
	err = m.Stop(c.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeleteUnknownIDFails(t *testing.T) {
	m, _, _ := testManager(t)
	require.ErrorIs(t, m.Delete(999), ErrNotFound)
}

func TestDeleteErroredContainerFreesResources(t *testing.T) {
	m, fake, _ := testManager(t)
	fake.Err = context.DeadlineExceeded // the loader fails, so the wrapper moves the container to ERROR
	c, err := m.Create("hello", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)
	require.NoError(t, m.Start(c.ID))

	require.Eventually(t, func() bool {
		got, ok := m.Get(c.ID)
		return ok && got.State == StateError
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Delete(c.ID))
	_, ok := m.Get(c.ID)
	require.False(t, ok)

	// A fresh container must be able to reuse the reclaimed slots.
	_, err = m.Create("hello", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)
}

func TestListReturnsAllContainers(t *testing.T) {
	m, _, _ := testManager(t)
	_, err := m.Create("a", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)
	_, err = m.Create("b", "hello", "entrypoint", 1<<20, cgroup.CPUMax)
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
}
