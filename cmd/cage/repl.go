package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// commandTable maps a REPL/console command name to its handler. The
// handlers are the same functions the one-shot cobra subcommands
// (container_cmds.go, fs_cmds.go) wrap with oneShot, so "cage repl" and
// "cage container-ls" run the same code; the cobra commands themselves are
// registered separately and do not read this table.
var commandTable = map[string]func(*appState, []string) error{
	"container-create": handleContainerCreate,
	"container-ls":     handleContainerLs,
	"container-start":  handleContainerStart,
	"container-stop":   handleContainerStop,
	"container-delete": handleContainerDelete,
	"container-run":    handleContainerRun,
	"container-load":   handleContainerLoad,
	"container-save":   handleContainerSave,
	"container-image":  handleContainerImage,
	"run":              handleRun,
	"ls":               handleLs,
	"pwd":              handlePwd,
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Run an interactive console over one long-lived subsystem instance",
	Long: "repl starts a console over a single container.Manager that stays alive for the life of\n" +
		"the process, so container-create/container-start/etc operate against one running system\n" +
		"rather than each reconstructing empty state. Type \"help\" to list commands, \"exit\" to quit.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := newAppState(cmd)
		if err != nil {
			return err
		}
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		stopMetrics := startMetricsServer(state, metricsAddr)
		defer stopMetrics()
		return runREPL(state, os.Stdin, os.Stdout)
	},
}

func runREPL(state *appState, in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "cage console. type \"help\" for commands, \"exit\" to quit.")
	for {
		fmt.Fprint(out, "cage> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		name, rest := fields[0], fields[1:]

		switch name {
		case "exit", "quit":
			return nil
		case "help":
			printHelp(out)
			continue
		}

		handler, ok := commandTable[name]
		if !ok {
			fmt.Fprintf(out, "unknown command: %s (type \"help\")\n", name)
			continue
		}
		if err := handler(state, rest); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func printHelp(out *os.File) {
	fmt.Fprintln(out, "commands:")
	fmt.Fprintln(out, "  container-create <image> <program> [mem_kb] [cpu_pct]")
	fmt.Fprintln(out, "  container-run    <image> <program> [mem_kb] [cpu_pct]")
	fmt.Fprintln(out, "  container-ls")
	fmt.Fprintln(out, "  container-start  <id>")
	fmt.Fprintln(out, "  container-stop   <id>")
	fmt.Fprintln(out, "  container-delete <id>")
	fmt.Fprintln(out, "  container-load   <path>")
	fmt.Fprintln(out, "  container-save   <id> <path>")
	fmt.Fprintln(out, "  container-image")
	fmt.Fprintln(out, "  run <elf-path>")
	fmt.Fprintln(out, "  ls [path]")
	fmt.Fprintln(out, "  pwd")
	fmt.Fprintln(out, "  exit")
}
