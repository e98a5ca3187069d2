package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand: one full scraping cycle.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs a single scraping cycle",
		Long: `Fetches every configured source once, deduplicates the results
against the seen-set, dispatches novel postings to the sink, and exits.`,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	stats, err := appInstance.RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
	return nil
}

// newServeCmd creates the 'serve' subcommand: scheduled cycles plus the
// admin HTTP server.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs scheduled cycles with the admin server",
		Long: `Starts the admin HTTP server (health, metrics, status, manual
triggers) and runs scraping cycles on the configured interval until
interrupted.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	if err := appInstance.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
