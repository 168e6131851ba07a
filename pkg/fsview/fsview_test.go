package fsview

import (
	"testing"

	"github.com/lattice-rt/cage/pkg/flash"
	"github.com/stretchr/testify/require"
)

// TestChrootScenario verifies non-canonical path concatenation end to end.
func TestChrootScenario(t *testing.T) {
	store := flash.NewMemStore()
	v := New(store)
	const task = 1

	require.NoError(t, v.WriteFile(task, "/test.txt", []byte("Hello World")))
	require.NoError(t, v.Mkdir(task, "/tmp"))

	require.NoError(t, v.Chroot(task, "/tmp"))
	_, err := v.Stat(task, "/test.txt")
	require.Error(t, err)

	require.NoError(t, v.Chroot(task, "/"))
	data, err := v.ReadFile(task, "/test.txt")
	require.NoError(t, err)
	require.Equal(t, "Hello World", string(data))
}

func TestChrootRejectsMissingTarget(t *testing.T) {
	store := flash.NewMemStore()
	v := New(store)
	err := v.Chroot(1, "/does-not-exist")
	require.ErrorIs(t, err, ErrChrootTargetMissing)
}

func TestChrootIsPerTask(t *testing.T) {
	store := flash.NewMemStore()
	v := New(store)
	require.NoError(t, v.Mkdir(1, "/a"))
	require.NoError(t, v.Mkdir(1, "/b"))

	require.NoError(t, v.Chroot(1, "/a"))
	require.Equal(t, "/a", v.RootOf(1))
	require.Equal(t, "/", v.RootOf(2))
}

func TestRootIsVerbatimNoRewrite(t *testing.T) {
	store := flash.NewMemStore()
	v := New(store)
	require.Equal(t, "/foo/bar", v.rewrite(1, "/foo/bar"))
}

func TestTaskDeleteClearsRoot(t *testing.T) {
	store := flash.NewMemStore()
	v := New(store)
	require.NoError(t, v.Mkdir(1, "/a"))
	require.NoError(t, v.Chroot(1, "/a"))
	v.TaskDelete(1)
	require.Equal(t, "/", v.RootOf(1))
}
