// Command cage is the console for the container isolation subsystem:
// container lifecycle management, image handling, and raw filesystem
// inspection, all operating on one in-process container.Manager for the
// lifetime of the command. It follows a standard cobra root command
// layout: persistent log flags set up via cobra.OnInitialize.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lattice-rt/cage/internal/config"
	"github.com/lattice-rt/cage/internal/log"
	"github.com/lattice-rt/cage/pkg/container"
	"github.com/lattice-rt/cage/pkg/flash"
	"github.com/lattice-rt/cage/pkg/loader"
	"github.com/lattice-rt/cage/pkg/rtos"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cage",
	Short:   "cage - container isolation subsystem console",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("cage version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./cage-data", "Directory for the flash-backed store")
	rootCmd.PersistentFlags().String("config", "", "YAML file overriding the default capacity limits")
	rootCmd.PersistentFlags().String("containerd-socket", "", "containerd socket path; falls back to a recording fake loader if unreachable")
	rootCmd.PersistentFlags().String("metrics-addr", "", "address to serve /metrics, /health, /ready, /live on (repl only; empty disables)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(containerCmd)
	rootCmd.AddCommand(containerCreateCmd, containerLsCmd, containerStartCmd, containerStopCmd,
		containerDeleteCmd, containerRunCmd, containerLoadCmd, containerSaveCmd, containerImageCmd)
	rootCmd.AddCommand(runCmd, lsCmd, pwdCmd)
	rootCmd.AddCommand(replCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// appState bundles everything a command needs to act on the subsystem; it
// is constructed once per process invocation since the container list and
// every controller's state is in-memory only.
type appState struct {
	manager *container.Manager
	sched   *rtos.Sim
	self    rtos.TaskID // the "current task" the run/ls/pwd commands act as
}

func newAppState(cmd *cobra.Command) (*appState, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configPath, _ := cmd.Flags().GetString("config")
	socketPath, _ := cmd.Flags().GetString("containerd-socket")

	limits, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := flash.NewBoltStore(dataDir + "/cage.db")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var ld loader.Loader
	if socketPath != "" {
		cld, err := loader.NewContainerd(socketPath, dataDir+"/bundles")
		if err != nil {
			log.WithComponent("cli").Warn().Msg("containerd unreachable, falling back to recording loader")
			ld = loader.NewFake()
		} else {
			ld = cld
		}
	} else {
		ld = loader.NewFake()
	}

	sim := rtos.NewSim()
	mgr := container.New(limits, sim, sim, store, ld)

	self, err := sim.CreateTask(func(ctx context.Context) { <-ctx.Done() })
	if err != nil {
		return nil, fmt.Errorf("create console task: %w", err)
	}

	return &appState{manager: mgr, sched: sim, self: self}, nil
}
