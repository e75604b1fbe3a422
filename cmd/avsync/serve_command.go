package main

import (
	"github.com/spf13/cobra"

	"avsync/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and inbox watcher in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Include source locations in log output")
	cmd.Flags().BoolVar(&opts.Diagnostic, "diagnostic", false, "Mirror debug-level logs into logs/debug")
	cmd.Flags().BoolVar(&opts.SkipPreflight, "skip-preflight", false, "Start even when dependency checks fail")
	return cmd
}
