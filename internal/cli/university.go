package cli

import (
	"fmt"

	"credential-registry/internal/model"

	"github.com/spf13/cobra"
)

type UniversityOptions struct {
	*RootOptions
	ID                string
	BlockchainID      uint64
	Name              string
	RequiredApprovals int
	Inactive          bool
}

func NewUniversityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "university",
		Short: "Manage the replica rows of universities",
	}
	cmd.AddCommand(newUniversityRegisterCommand(rootOpts))
	cmd.AddCommand(newUniversityGetCommand(rootOpts))
	return cmd
}

func newUniversityRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UniversityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "register",
		Short:   "Create or update a university",
		Example: `  credsync university register --id tu-berlin --name "TU Berlin" --blockchain-id 3 --required-approvals 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			u := model.University{
				ID:                opts.ID,
				Name:              opts.Name,
				IsActive:          !opts.Inactive,
				RequiredApprovals: opts.RequiredApprovals,
			}
			if cmd.Flags().Changed("blockchain-id") {
				id := opts.BlockchainID
				u.BlockchainID = &id
			}

			svc, err := openServices(cmd.Context(), opts.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.app.RegisterUniversity(cmd.Context(), u); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.Format, u, fmt.Sprintf("university %s registered", u.ID))
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "replica id (required)")
	_ = cmd.MarkFlagRequired("id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().Uint64Var(&opts.BlockchainID, "blockchain-id", 0, "ledger id, can only be set once")
	cmd.Flags().IntVar(&opts.RequiredApprovals, "required-approvals", 1, "approvals a request needs")
	cmd.Flags().BoolVar(&opts.Inactive, "inactive", false, "register as inactive")
	return cmd
}

func newUniversityGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a university",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context(), rootOpts.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			u, err := svc.app.GetUniversity(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			text := fmt.Sprintf("%s (%s): %d required approvals, active %t", u.ID, u.Name, u.RequiredApprovals, u.IsActive)
			if u.BlockchainID != nil {
				text += fmt.Sprintf(", ledger id %d", *u.BlockchainID)
			}
			return printResult(cmd.OutOrStdout(), rootOpts.Format, u, text)
		},
	}
}
