package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lattice-rt/cage/pkg/cgroup"
	"github.com/spf13/cobra"
)

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Inspect and manage containers (see container-* top-level commands)",
}

// memKBToBytes and cpuPctX100ToTicks implement the CLI-surface unit
// conversions: the cgroup controller's native units are bytes and
// ticks-per-window, while the CLI speaks KB and percent*100. One window's
// worth of ticks at 100% is defined as the controller's configured window
// length; cpu_pct is therefore converted as quota = window * pct / 10000.
func memKBToBytes(kb int64) int64 {
	if kb <= 0 {
		return cgroup.SentinelNoLimit
	}
	return kb * 1024
}

func cpuPctX100ToTicks(pctX100, window int64) int64 {
	if pctX100 <= 0 {
		return cgroup.CPUMax
	}
	return window * pctX100 / 10000
}

func parseOptionalInt(args []string, idx int, def int64) (int64, error) {
	if idx >= len(args) || args[idx] == "" {
		return def, nil
	}
	return strconv.ParseInt(args[idx], 10, 64)
}

// handlers below take an already-constructed *appState so the REPL can
// reuse one session's state across many lines, while the cobra
// subcommands construct a fresh one per process invocation.

func handleContainerCreate(state *appState, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: container-create <image> <program> [mem_kb] [cpu_pct]")
	}
	memKB, err := parseOptionalInt(args, 2, 0)
	if err != nil {
		return fmt.Errorf("invalid mem_kb: %w", err)
	}
	cpuPct, err := parseOptionalInt(args, 3, 0)
	if err != nil {
		return fmt.Errorf("invalid cpu_pct: %w", err)
	}

	const window = int64(1000) // matches internal/config.Default().CGroupWindow
	c, err := state.manager.Create(args[1], args[0], args[1], memKBToBytes(memKB), cpuPctX100ToTicks(cpuPct, window))
	if err != nil {
		return err
	}
	fmt.Printf("✓ container created: id=%d name=%s state=%s\n", c.ID, c.Name, c.State)
	return nil
}

const defaultLsPageSize = 20

// handleContainerLs implements "container-ls [page] [page-size]": a
// paginated listing, 1-indexed, defaulting to page 1 of defaultLsPageSize
// containers. A page past the end prints an empty page rather than
// erroring, consistent with List() returning an empty slice for an empty
// manager.
func handleContainerLs(state *appState, args []string) error {
	page, err := parseOptionalInt(args, 0, 1)
	if err != nil {
		return fmt.Errorf("invalid page: %w", err)
	}
	if page < 1 {
		page = 1
	}
	pageSize, err := parseOptionalInt(args, 1, defaultLsPageSize)
	if err != nil {
		return fmt.Errorf("invalid page-size: %w", err)
	}
	if pageSize < 1 {
		pageSize = defaultLsPageSize
	}

	all := state.manager.List()
	start := (page - 1) * pageSize
	if start >= int64(len(all)) {
		return nil
	}
	end := start + pageSize
	if end > int64(len(all)) {
		end = int64(len(all))
	}

	for _, c := range all[start:end] {
		fmt.Printf("%d\t%s\t%s\tmem=%d\tcpu=%d\n", c.ID, c.Name, c.State, c.MemoryLimit, c.CPUQuota)
	}
	return nil
}

func parseID(args []string) (uint64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("usage: <command> <id>")
	}
	return strconv.ParseUint(args[0], 10, 64)
}

func handleContainerStart(state *appState, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := state.manager.Start(id); err != nil {
		return err
	}
	fmt.Println("✓ container started")
	return nil
}

func handleContainerStop(state *appState, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := state.manager.Stop(id); err != nil {
		return err
	}
	fmt.Println("✓ container stopped")
	return nil
}

func handleContainerDelete(state *appState, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := state.manager.Delete(id); err != nil {
		return err
	}
	fmt.Println("✓ container deleted")
	return nil
}

func handleContainerRun(state *appState, args []string) error {
	if err := handleContainerCreate(state, args); err != nil {
		return err
	}
	list := state.manager.List()
	if len(list) == 0 {
		return fmt.Errorf("container-run: no container to start")
	}
	return state.manager.Start(list[0].ID)
}

func handleContainerLoad(state *appState, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: container-load <path>")
	}
	if err := state.manager.LoadImage(args[0]); err != nil {
		return err
	}
	fmt.Println("✓ image loaded")
	return nil
}

func handleContainerSave(state *appState, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: container-save <id> <path>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return err
	}
	if err := state.manager.SaveImage(id, args[1]); err != nil {
		return err
	}
	fmt.Println("✓ image saved")
	return nil
}

func handleContainerImage(state *appState, args []string) error {
	names, err := state.manager.ListImages()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func handleRun(state *appState, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: run <elf-path>")
	}
	if err := state.manager.RunInPlace(context.Background(), state.self, args[0]); err != nil {
		return err
	}
	fmt.Println("✓ executed")
	return nil
}

// oneShot wraps a handler into a cobra RunE that constructs its own
// appState, for single-invocation use from a shell.
func oneShot(handler func(*appState, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		state, err := newAppState(cmd)
		if err != nil {
			return err
		}
		return handler(state, args)
	}
}

var containerCreateCmd = &cobra.Command{
	Use: "container-create <image> <program> [mem_kb] [cpu_pct]", Short: "Create a container, unpacking image into its working directory",
	Args: cobra.RangeArgs(2, 4), RunE: oneShot(handleContainerCreate),
}

var containerLsCmd = &cobra.Command{
	Use: "container-ls [page] [page-size]", Short: "List containers, paginated (default page size 20)", Args: cobra.MaximumNArgs(2), RunE: oneShot(handleContainerLs),
}

var containerStartCmd = &cobra.Command{
	Use: "container-start <id>", Short: "Start a stopped container", Args: cobra.ExactArgs(1), RunE: oneShot(handleContainerStart),
}

var containerStopCmd = &cobra.Command{
	Use: "container-stop <id>", Short: "Stop a running container", Args: cobra.ExactArgs(1), RunE: oneShot(handleContainerStop),
}

var containerDeleteCmd = &cobra.Command{
	Use: "container-delete <id>", Short: "Stop (if running) and remove a container", Args: cobra.ExactArgs(1), RunE: oneShot(handleContainerDelete),
}

var containerRunCmd = &cobra.Command{
	Use: "container-run <image> <program> [mem_kb] [cpu_pct]", Short: "Create and immediately start a container",
	Args: cobra.RangeArgs(2, 4), RunE: oneShot(handleContainerRun),
}

var containerLoadCmd = &cobra.Command{
	Use: "container-load <path>", Short: "Copy an image into the canonical image store", Args: cobra.ExactArgs(1), RunE: oneShot(handleContainerLoad),
}

var containerSaveCmd = &cobra.Command{
	Use: "container-save <id> <path>", Short: "Pack a container's working directory into an image file", Args: cobra.ExactArgs(2), RunE: oneShot(handleContainerSave),
}

var containerImageCmd = &cobra.Command{
	Use: "container-image", Short: "List images in the canonical image store", Args: cobra.NoArgs, RunE: oneShot(handleContainerImage),
}

var runCmd = &cobra.Command{
	Use: "run <elf-path>", Short: "Load and execute an ELF image in the current task context", Args: cobra.ExactArgs(1), RunE: oneShot(handleRun),
}
