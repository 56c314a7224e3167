package cli

import (
	"fmt"

	"credential-registry/internal/model"
	"credential-registry/internal/reconcile"

	"github.com/spf13/cobra"
)

type SyncOptions struct {
	*RootOptions
	Scope string
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the replica up to the confirmed head once",
		Example: `  credsync sync
  credsync sync --scope university:3 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := reconcile.ParseScope(opts.Scope); err != nil {
				return err
			}

			svc, err := openServices(cmd.Context(), opts.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.app.Resync(cmd.Context(), opts.Scope)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.Format, res, describeResult(res))
		},
	}

	cmd.Flags().StringVar(&opts.Scope, "scope", model.GlobalScope, "sync scope (global|university:<id>)")
	return cmd
}

func describeResult(res reconcile.Result) string {
	if res.Blocks == 0 {
		return fmt.Sprintf("run %s: replica already up to date", res.RunID)
	}
	return fmt.Sprintf("run %s: blocks %d..%d, %d events, %d requests written, %d malformed, %d orphans, %d violations",
		res.RunID, res.From, res.To, res.Events, res.RequestsWritten, res.Malformed, res.Orphans, res.Violations)
}
