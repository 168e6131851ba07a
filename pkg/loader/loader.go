// Package loader declares code execution ("execute bytes as new task in
// current context") as a narrow interface, plus two implementations: a
// Fake used by the container manager's tests and hosts with no execution
// backend, and a containerd-backed Loader (loader_containerd.go).
package loader

import (
	"context"
	"sync"
)

// LoadArgs carries the information the loader needs beyond the raw bytes:
// which container/task this load belongs to, and the chroot-relative path
// the ELF was read from (used only for logging/tracing).
type LoadArgs struct {
	ContainerID uint64
	Path        string
}

// Loader executes elf as a new task in the current context.
type Loader interface {
	Load(ctx context.Context, elf []byte, args LoadArgs) error
}

// Invocation records one Load call, for tests that need to assert on what
// was asked of the loader.
type Invocation struct {
	ELFSize int
	Args    LoadArgs
}

// Fake is a Loader that records invocations instead of executing anything.
// It is the default loader for the container manager's test suite and for
// any host without a real execution backend wired in.
type Fake struct {
	mu          sync.Mutex
	invocations []Invocation
	Err         error         // if set, Load returns this error instead of succeeding
	Block       chan struct{} // if set, Load waits for this to close (or ctx to end) before returning
}

// NewFake returns an empty Fake loader.
func NewFake() *Fake { return &Fake{} }

func (f *Fake) Load(ctx context.Context, elf []byte, args LoadArgs) error {
	f.mu.Lock()
	f.invocations = append(f.invocations, Invocation{ELFSize: len(elf), Args: args})
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.Err
}

// Invocations returns a copy of every Load call observed so far.
func (f *Fake) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Invocation, len(f.invocations))
	copy(out, f.invocations)
	return out
}
