package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	appsync "github.com/nhle/inbox-triage/internal/sync"
)

var accountID string

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one mailbox account now",
		Long:  `Fetch new mail for one account, ingest it and wait for triage to finish.`,
		RunE:  runSync,
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Account id to sync (required)")
	cmd.MarkFlagRequired("account")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	e, err := initEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if _, ok := e.cfg.Account(accountID); !ok {
		return fmt.Errorf("account %q is not configured", accountID)
	}

	p, err := e.app.Pipeline(cmd.Context())
	if err != nil {
		return err
	}

	res, err := p.Syncer.SyncAccount(cmd.Context(), accountID)
	p.Close()
	if errors.Is(err, appsync.ErrUnknownAccount) {
		return fmt.Errorf("account %q has no usable credentials", accountID)
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %d, skipped %d, errors %d, deferred %d\n", res.Created, res.Skipped, res.Errors, res.Deferred)
	return nil
}
