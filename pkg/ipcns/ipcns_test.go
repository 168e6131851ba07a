package ipcns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestController() *Controller {
	return New(Config{MaxNamespaces: 4, MaxObjectsPerNamespace: 4})
}

type fakeQueue struct{ name string }

func TestRootNamespaceCannotBeDeleted(t *testing.T) {
	c := newTestController()
	require.ErrorIs(t, c.Delete(c.Root()), ErrRootNamespace)
}

func TestRegisterRejectsNilObject(t *testing.T) {
	c := newTestController()
	ns, _ := c.Create("A")
	_, err := c.Register(ns, KindQueue, "q", nil)
	require.ErrorIs(t, err, ErrNilObject)
}

func TestObjectIDsMonotoneWithinNamespace(t *testing.T) {
	c := newTestController()
	ns, _ := c.Create("A")

	id1, err := c.Register(ns, KindQueue, "q1", &fakeQueue{"q1"})
	require.NoError(t, err)
	id2, err := c.Register(ns, KindQueue, "q2", &fakeQueue{"q2"})
	require.NoError(t, err)
	require.Less(t, id1, id2)
}

// TestCrossNamespaceAccessDenied: a task in namespace A creates an object;
// a task in namespace B is denied; the root namespace's monitor task is
// allowed.
func TestCrossNamespaceAccessDenied(t *testing.T) {
	c := newTestController()
	nsA, _ := c.Create("A")
	nsB, _ := c.Create("B")

	q := &fakeQueue{"queue-A"}
	_, err := c.Register(nsA, KindQueue, "queue-A", q)
	require.NoError(t, err)

	require.True(t, c.CheckAccess(nsA, q))
	require.False(t, c.CheckAccess(nsB, q))
	require.True(t, c.CheckAccess(c.Root(), q))
}

func TestUnregisteredObjectIsLegacyAllowed(t *testing.T) {
	c := newTestController()
	nsB, _ := c.Create("B")
	q := &fakeQueue{"never-registered"}
	require.True(t, c.CheckAccess(nsB, q))
}

func TestUnregisterRemovesEntry(t *testing.T) {
	c := newTestController()
	nsA, _ := c.Create("A")
	nsB, _ := c.Create("B")
	q := &fakeQueue{"queue-A"}
	_, err := c.Register(nsA, KindQueue, "queue-A", q)
	require.NoError(t, err)

	require.NoError(t, c.Unregister(q))
	// Now legacy/compatibility rule applies: access allowed from anywhere.
	require.True(t, c.CheckAccess(nsB, q))

	require.NoError(t, c.Delete(nsA))
}

func TestDeleteNonEmptyNamespaceFails(t *testing.T) {
	c := newTestController()
	ns, _ := c.Create("A")
	q := &fakeQueue{"q"}
	_, err := c.Register(ns, KindQueue, "q", q)
	require.NoError(t, err)
	require.ErrorIs(t, c.Delete(ns), ErrNotEmpty)
}

func TestObjectCapacityEnforced(t *testing.T) {
	c := New(Config{MaxNamespaces: 2, MaxObjectsPerNamespace: 1})
	ns, _ := c.Create("A")
	_, err := c.Register(ns, KindQueue, "q1", &fakeQueue{"q1"})
	require.NoError(t, err)
	_, err = c.Register(ns, KindQueue, "q2", &fakeQueue{"q2"})
	require.ErrorIs(t, err, ErrObjectFull)
}
