package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one SLA escalation sweep",
		RunE:  runSweep,
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	e, err := initEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.app.Monitor().Sweep(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"candidates %d, escalated %d, terminal %d, lost %d, skipped %d, errors %d (%s)\n",
		res.Candidates, res.Escalated, res.Terminal, res.Lost, res.Skipped, res.Errors, res.Duration)
	return nil
}
