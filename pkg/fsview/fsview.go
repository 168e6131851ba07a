// Package fsview implements the Filesystem Wrapper ("chroot"): a per-task
// root-path translation applied to every path-bearing filesystem operation
// a task performs.
//
// The rewrite is deliberately non-canonical: a path is rewritten as
// root+"/"+path with a single joining slash, and ".." components are not
// specially interpreted or resolved. This is a documented limitation, not
// an oversight — see DESIGN.md.
package fsview

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lattice-rt/cage/pkg/flash"
	"github.com/lattice-rt/cage/pkg/rtos"
)

var ErrChrootTargetMissing = errors.New("fsview: chroot target does not exist")

// View binds a flash.Store to the per-task root-path table, rewriting every
// path-bearing call through the caller task's current root.
type View struct {
	store flash.Store

	mu    sync.Mutex
	roots map[rtos.TaskID]string
}

// New returns a View over store with every task defaulting to root "/".
func New(store flash.Store) *View {
	return &View{store: store, roots: make(map[rtos.TaskID]string)}
}

// rewrite composes the effective path for task: if the task's root is
// "/", the input is used verbatim; otherwise the effective path is
// root+"/"+path with exactly one joining slash.
func (v *View) rewrite(task rtos.TaskID, p string) string {
	v.mu.Lock()
	root := v.roots[task]
	v.mu.Unlock()

	if root == "" || root == "/" {
		return p
	}
	return strings.TrimRight(root, "/") + "/" + strings.TrimLeft(p, "/")
}

// RootOf returns task's current effective root, defaulting to "/".
func (v *View) RootOf(task rtos.TaskID) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	root := v.roots[task]
	if root == "" {
		return "/"
	}
	return root
}

// Chroot changes task's effective root to newRoot, after verifying newRoot
// exists by attempting to open (stat) it. newRoot is resolved against the
// store's real root, not through task's current root: it is not one of
// the path-bearing operations rewrite's translation applies to, since a
// chroot target names where the new root itself lives, not a path inside
// the old one.
func (v *View) Chroot(task rtos.TaskID, newRoot string) error {
	info, err := v.store.Stat(newRoot)
	if err != nil || !info.IsDir {
		return fmt.Errorf("%w: %s", ErrChrootTargetMissing, newRoot)
	}

	v.mu.Lock()
	v.roots[task] = newRoot
	v.mu.Unlock()
	return nil
}

// TaskDelete is the scheduler's task-delete hook: it forgets task's root.
func (v *View) TaskDelete(task rtos.TaskID) {
	v.mu.Lock()
	delete(v.roots, task)
	v.mu.Unlock()
}

// The methods below are the path-bearing operations rewritten through the
// task's root. Handle-based operations (read/write/seek/close on an
// already-open handle) are intentionally not part of this type.

func (v *View) Stat(task rtos.TaskID, p string) (flash.Info, error) {
	return v.store.Stat(v.rewrite(task, p))
}

func (v *View) ReadFile(task rtos.TaskID, p string) ([]byte, error) {
	return v.store.ReadFile(v.rewrite(task, p))
}

func (v *View) WriteFile(task rtos.TaskID, p string, data []byte) error {
	return v.store.WriteFile(v.rewrite(task, p), data)
}

func (v *View) Remove(task rtos.TaskID, p string) error {
	return v.store.Remove(v.rewrite(task, p))
}

func (v *View) Rename(task rtos.TaskID, oldPath, newPath string) error {
	return v.store.Rename(v.rewrite(task, oldPath), v.rewrite(task, newPath))
}

func (v *View) Mkdir(task rtos.TaskID, p string) error {
	return v.store.Mkdir(v.rewrite(task, p))
}

func (v *View) ReadDir(task rtos.TaskID, p string) ([]flash.Info, error) {
	return v.store.ReadDir(v.rewrite(task, p))
}
