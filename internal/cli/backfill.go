package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill <universityId>",
		Short: "Rebuild every request of a university from the ledger",
		Long: `Re-derive all requests of a university from the deployment block up to
the current sync cursor and replace its replica rows in one transaction.
The university is identified by its ledger id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uni, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid university id %q", args[0])
			}

			svc, err := openServices(cmd.Context(), rootOpts.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.app.Backfill(cmd.Context(), uni)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts.Format, res, describeResult(res))
		},
	}
}
