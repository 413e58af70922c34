package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/inbox-triage/internal/directory"
)

var directoryFile string

func newDirectoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Manage tenants and users",
	}

	load := &cobra.Command{
		Use:   "load",
		Short: "Load tenants and users from a YAML file",
		Long:  `Validate a directory file and upsert its tenants and users. Loading the same file twice is a no-op.`,
		RunE:  runDirectoryLoad,
	}
	load.Flags().StringVarP(&directoryFile, "file", "f", "", "Directory YAML file (required)")
	load.MarkFlagRequired("file")

	cmd.AddCommand(load)
	return cmd
}

func runDirectoryLoad(cmd *cobra.Command, args []string) error {
	dir, err := directory.LoadFile(directoryFile)
	if err != nil {
		return err
	}

	e, err := initEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	sum, err := dir.Apply(cmd.Context(), e.app.Store())
	if err != nil {
		return fmt.Errorf("applying directory: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "loaded %d tenants, %d users\n", sum.Tenants, sum.Users)
	return nil
}
