// Package cli is the credsync command line: the long running service and the
// one-shot maintenance commands share the same wiring.
package cli

import (
	"fmt"

	"credential-registry/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type RootOptions struct {
	ConfigFile string
	Format     string // "json" | "text"

	logger *zap.Logger
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand(logger *zap.Logger) *cobra.Command {
	opts := &RootOptions{logger: logger}

	cmd := &cobra.Command{
		Use:   "credsync",
		Short: "Credential approval replica",
		Long:  "Keeps a queryable replica of the credential approval requests recorded on the ledger.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := config.LoadFile(opts.ConfigFile); err != nil {
				return fmt.Errorf("failed to load config file: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file, merged over the environment")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.String("db-driver", "", "replica backend (mongodb|sqlite)")
	flags.String("sqlite-path", "", "sqlite database file")
	flags.String("validator", "", "validator component endpoint host:port")
	flags.String("rest-api", "", "validator REST API host:port")
	bindFlag(cmd, config.KeyDbDriver, "db-driver")
	bindFlag(cmd, config.KeySqlitePath, "sqlite-path")
	bindFlag(cmd, config.KeyValidatorAddr, "validator")
	bindFlag(cmd, config.KeyRestAPIAddr, "rest-api")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewBackfillCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewUniversityCommand(opts))

	return cmd
}

// bindFlag lets a persistent flag override the environment value of key.
func bindFlag(cmd *cobra.Command, key, flag string) {
	_ = viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag))
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
