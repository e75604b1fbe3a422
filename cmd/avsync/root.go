package main

import (
	"github.com/spf13/cobra"

	"avsync/internal/procexec"
)

type rootOption func(*commandContext)

// withExecutor routes in-process syncs through exec instead of real binaries.
func withExecutor(exec procexec.Executor) rootOption {
	return func(c *commandContext) { c.executor = exec }
}

func newRootCommand(opts ...rootOption) *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)
	for _, opt := range opts {
		opt(ctx)
	}

	rootCmd := &cobra.Command{
		Use:           "avsync",
		Short:         "Iterative audio/video sync correction",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newSyncCommand(ctx))
	rootCmd.AddCommand(newAnalyzeCommand())
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newLogsCommand(ctx))
	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newCleanupCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
