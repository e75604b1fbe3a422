package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"avsync/internal/logging"
	"avsync/internal/staging"
)

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var jsonOut bool
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale session files and work directories",
		Long: `Remove leftovers from interrupted sync sessions.

Temporary copies, abandoned uploads, staged inputs in the detector data
directory, and numbered work directories older than staging.stale_after_hours
are removed. Use --dry-run to list candidates without deleting them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			maxAge := staging.MaxAge(cfg)
			if olderThan > 0 {
				maxAge = olderThan
			}
			if maxAge <= 0 {
				return fmt.Errorf("stale cleanup is disabled; set staging.stale_after_hours or pass --older-than")
			}
			targets := staging.Targets(cfg)
			out := cmd.OutOrStdout()

			if dryRun {
				entries, errs := staging.ListStale(targets, maxAge)
				if jsonOut {
					if entries == nil {
						entries = []staging.Entry{}
					}
					return writeJSON(cmd, map[string]any{
						"candidates": entries,
						"errors":     cleanupErrorStrings(errs),
					})
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "No stale files found")
					return nil
				}
				var total int64
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					total += e.Size
					rows = append(rows, []string{
						e.Target,
						e.Path,
						formatDuration(time.Since(e.ModTime).Truncate(time.Minute)),
						formatBytes(e.Size),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{col("Target"), col("Path"), num("Age"), num("Size")},
					rows,
					"Total", fmt.Sprintf("%d entries", len(entries)), "", formatBytes(total),
				))
				return nil
			}

			result := staging.CleanStale(cmd.Context(), targets, maxAge, logging.NewNop())
			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"removed": result.Removed,
					"errors":  cleanupErrorStrings(result.Errors),
				})
			}
			fmt.Fprintf(out, "Removed %d stale entries\n", len(result.Removed))
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  failed: %s: %v\n", e.Path, e.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List stale entries without removing them")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Override staging.stale_after_hours (e.g. 6h)")
	return cmd
}

func cleanupErrorStrings(errs []staging.CleanupError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, fmt.Sprintf("%s: %v", e.Path, e.Error))
	}
	return out
}
