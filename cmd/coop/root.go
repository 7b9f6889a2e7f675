package main

import (
	"github.com/spf13/cobra"

	"github.com/zeusync/coop/internal/config"
	"github.com/zeusync/coop/internal/core/protocol"
)

type rootOptions struct {
	configPath string
	logLevel   string
	name       string
	cfg        config.Config
}

// NewRootCmd builds the coop command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "coop",
		Short:         "Host or join a co-op session on the in-memory demo world",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			if opts.name != "" {
				cfg.Session.Name = opts.name
			}
			opts.cfg = cfg
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flags.StringVar(&opts.name, "name", "", "display name announced to other players")

	rootCmd.AddCommand(newHostCmd(opts), newJoinCmd(opts))
	return rootCmd
}

// transportFlag overrides transport.kind when the flag was given.
func transportFlag(cfg *config.Config, kind string) {
	if kind != "" {
		cfg.Transport.Kind = protocol.TransportKind(kind)
	}
}
