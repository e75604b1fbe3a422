package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"avsync/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "check",
		Aliases: []string{"deps"},
		Short:   "Check external programs, directories, and notification reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if jsonOut {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
				return preflight.Err(results)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, r := range results {
				fmt.Fprintln(out, renderStatusLine(r.Name, resultKind(r), r.Detail, colorize))
			}
			return preflight.Err(results)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print check results as JSON")
	return cmd
}

func resultKind(r preflight.Result) statusKind {
	switch {
	case r.Passed:
		return statusOK
	case r.Optional:
		return statusWarn
	default:
		return statusError
	}
}
