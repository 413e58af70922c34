package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/inbox-triage/internal/model"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "triaged",
		Short:        "Mailbox triage daemon",
		Long:         `triaged ingests mailbox email, triages it with an analysis provider, sends auto-replies and escalates items that miss their SLA.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", model.DefaultConfigPath(), "Path to config file")

	rootCmd.AddCommand(
		newServeCommand(),
		newSyncCommand(),
		newSweepCommand(),
		newMigrateCommand(),
		newDirectoryCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
