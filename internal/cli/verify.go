package cli

import (
	"errors"
	"fmt"
	"strings"

	"credential-registry/internal/model"

	"github.com/spf13/cobra"
)

var errDrift = errors.New("replica differs from the ledger")

func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <kind> <requestId>",
		Short: "Compare one replica request with the ledger",
		Example: `  credsync verify issuance 17
  credsync verify revocation 3 --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := model.ParseRequestRef(args[0], args[1])
			if err != nil {
				return err
			}

			svc, err := openServices(cmd.Context(), rootOpts.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			drift, err := svc.app.SpotCheck(cmd.Context(), ref)
			if err != nil {
				return err
			}

			text := fmt.Sprintf("%s: in sync", ref)
			if !drift.InSync() {
				text = fmt.Sprintf("%s:\n  %s", ref, strings.Join(drift.Differences, "\n  "))
			}
			if err := printResult(cmd.OutOrStdout(), rootOpts.Format, drift, text); err != nil {
				return err
			}
			if !drift.InSync() {
				return errDrift
			}
			return nil
		},
	}
}
