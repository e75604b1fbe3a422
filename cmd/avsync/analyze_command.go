package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"avsync/internal/analysis"
)

func newAnalyzeCommand() *cobra.Command {
	var fps float64
	var jsonOut bool

	cmd := &cobra.Command{
		Use:         "analyze <detector-log>",
		Short:       "Report the best offset found in a SyncNet detector log",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read detector log: %w", err)
			}
			if _, err := analysis.FramesToMS(1, fps); err != nil {
				return fmt.Errorf("--fps %v: %w", fps, err)
			}
			result := analysis.Analyze(string(data), fps)
			if jsonOut {
				return writeJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			if len(result.Confidences) == 0 {
				fmt.Fprintln(out, "No offset observations found; offset treated as 0 ms")
				return nil
			}
			rows := make([][]string, 0, len(result.Confidences))
			for _, entry := range result.Confidences {
				ms, _ := analysis.FramesToMS(entry.OffsetFrames, fps)
				rows = append(rows, []string{
					strconv.Itoa(entry.OffsetFrames),
					strconv.Itoa(ms),
					strconv.FormatFloat(entry.Confidence, 'f', 3, 64),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]column{num("Offset (frames)"), num("Offset (ms)"), num("Total confidence")},
				rows,
			))
			fmt.Fprintf(out, "Best offset: %d ms (confidence %.3f)\n", result.BestOffsetMS, result.TotalConfidence)
			return nil
		},
	}

	cmd.Flags().Float64Var(&fps, "fps", 25, "Frame rate of the analyzed clip")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the analysis as JSON")
	return cmd
}
