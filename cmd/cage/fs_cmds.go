package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func handleLs(state *appState, args []string) error {
	path := "/"
	if len(args) == 1 {
		path = args[0]
	}
	entries, err := state.manager.FS().ReadDir(state.self, path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		marker := "-"
		if e.IsDir {
			marker = "d"
		}
		fmt.Printf("%s\t%d\t%s\n", marker, e.Size, e.Name)
	}
	return nil
}

func handlePwd(state *appState, args []string) error {
	fmt.Println(state.manager.FS().RootOf(state.self))
	return nil
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory through the calling task's chroot view",
	Args:  cobra.MaximumNArgs(1),
	RunE:  oneShot(handleLs),
}

var pwdCmd = &cobra.Command{
	Use:   "pwd",
	Short: "Print the calling task's effective root",
	Args:  cobra.NoArgs,
	RunE:  oneShot(handlePwd),
}
