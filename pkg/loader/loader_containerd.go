package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/lattice-rt/cage/internal/log"
)

const (
	// containerdNamespace scopes every container this loader creates.
	containerdNamespace = "cage"

	// DefaultSocketPath is the default containerd socket path.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Containerd executes an ELF payload as a containerd task: it builds a
// minimal OCI bundle whose rootfs holds only the ELF, points the process
// entrypoint at it, and runs it to completion with containerd's default
// null IO.
//
// This goes beyond the narrow "execute bytes as new task" contract the
// core isolation subsystem actually needs — loader.Fake satisfies the
// same interface for every test and for hosts with no containerd socket.
type Containerd struct {
	client  *containerd.Client
	bundles string // scratch directory for per-invocation OCI bundles
}

// NewContainerd dials containerd at socketPath (DefaultSocketPath if empty).
func NewContainerd(socketPath, bundleDir string) (*Containerd, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("loader: connect to containerd: %w", err)
	}
	return &Containerd{client: client, bundles: bundleDir}, nil
}

// Close releases the containerd client connection.
func (c *Containerd) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Load implements Loader by writing elf to a scratch rootfs and running it
// as a containerd task to completion.
func (c *Containerd) Load(ctx context.Context, elf []byte, args LoadArgs) error {
	ctx = namespaces.WithNamespace(ctx, containerdNamespace)
	lg := log.WithComponent("loader").With().Uint64("container_id", args.ContainerID).Logger()

	rootfs := filepath.Join(c.bundles, fmt.Sprintf("cage-%d", args.ContainerID))
	if err := os.MkdirAll(rootfs, 0755); err != nil {
		return fmt.Errorf("loader: create rootfs: %w", err)
	}
	binPath := filepath.Join(rootfs, "entrypoint")
	if err := os.WriteFile(binPath, elf, 0755); err != nil {
		return fmt.Errorf("loader: write entrypoint: %w", err)
	}

	containerID := fmt.Sprintf("cage-%d", args.ContainerID)
	ctrdContainer, err := c.client.NewContainer(
		ctx,
		containerID,
		containerd.WithNewSpec(
			oci.WithRootFSPath(rootfs),
			oci.WithProcessArgs("/entrypoint"),
		),
	)
	if err != nil {
		return fmt.Errorf("loader: create container: %w", err)
	}
	defer ctrdContainer.Delete(ctx)

	task, err := ctrdContainer.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("loader: create task: %w", err)
	}
	defer task.Delete(ctx)

	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("loader: wait on task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("loader: start task: %w", err)
	}
	lg.Info().Str("path", args.Path).Msg("loaded container entrypoint")

	status := <-statusC
	if status.Error() != nil {
		return fmt.Errorf("loader: task exited with error: %w", status.Error())
	}
	return nil
}
