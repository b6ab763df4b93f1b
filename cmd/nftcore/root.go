package main

import (
	"github.com/spf13/cobra"

	"github.com/bws-projects/bws-api-nft-zk/internal/config"
	"github.com/bws-projects/bws-api-nft-zk/internal/logging"
)

// rootOptions carries what every subcommand needs. cfg is set by the
// persistent pre-run.
type rootOptions struct {
	logLevel string
	cfg      *config.AppConfig
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "nftcore",
		Short:         "Drive NFT mint, transfer and list jobs to completion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.Service.LogLevel
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			if err := logging.Init(level, cfg.Service.LogPretty); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides LOG_LEVEL")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newInvokeCommand(opts))
	cmd.AddCommand(newEstimateCommand(opts))

	return cmd
}
