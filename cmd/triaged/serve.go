package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the triage pipeline",
		Long:  `Run scheduled mailbox sync, triage backlog recovery and the SLA sweep, and serve the ops endpoint until interrupted.`,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := initEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.log.Info("starting triaged", "config", configPath, "driver", e.cfg.Database.Driver)
	return e.app.Serve(ctx)
}
