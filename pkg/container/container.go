// Package container implements the Container Manager: it composes the
// cgroup, pidns, ipcns, fsview, image and loader packages into the full
// container lifecycle (create, start, stop, delete), maintaining a single
// mutex-protected container list.
//
// The composition is a single struct owning the subordinate controllers
// plus a command-dispatch-shaped lifecycle: one mutex guards both the
// container list and every state transition.
package container

import (
	"errors"
	"fmt"
)

// State is a container's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrNotFound          = errors.New("container: unknown id")
	ErrInvalidTransition = errors.New("container: invalid state transition")
	ErrCapacity          = errors.New("container: no free container slot")
	ErrNameTooLong       = errors.New("container: name exceeds 31 bytes")
)

const maxNameBytes = 31

func truncateName(s string) string {
	if len(s) <= maxNameBytes {
		return s
	}
	return s[:maxNameBytes]
}

// rootDirFor is the canonical container directory naming rule: root
// directory path equals /var/container/<id>.
func rootDirFor(id uint64) string {
	return fmt.Sprintf("/var/container/%d", id)
}
