package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"avsync/internal/config"
	"avsync/internal/fileutil"
	"avsync/internal/history"
	"avsync/internal/logging"
	"avsync/internal/notifications"
	"avsync/internal/workflow"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var (
		outputPath string
		logFile    string
		verbose    bool
		jsonOut    bool
		noHistory  bool
	)

	cmd := &cobra.Command{
		Use:   "sync <file>",
		Short: "Synchronize a single file in-process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			input, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve input: %w", err)
			}
			info, err := os.Stat(input)
			if err != nil {
				return fmt.Errorf("inspect input %q: %w", input, err)
			}
			if info.IsDir() {
				return fmt.Errorf("input %q is a directory", input)
			}

			logger, closeLogs, err := syncLogger(cfg, verbose, logFile)
			if err != nil {
				return err
			}
			defer closeLogs()

			var store *history.Store
			if !noHistory {
				store, err = history.Open(cfg)
				if err != nil {
					return fmt.Errorf("open history: %w", err)
				}
				defer store.Close()
			}

			out := cmd.OutOrStdout()
			progress := notifications.Nop
			if !jsonOut {
				progress = notifications.NotifierFunc(func(_ context.Context, message string) {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", message)
				})
			}

			deps := workflow.Dependencies{
				Logger:   logger,
				Notifier: progress,
				Service:  notifications.NewService(cfg),
				History:  store,
				Executor: ctx.executor,
			}
			orchestrator, err := workflow.NewFromConfig(cfg, deps)
			if err != nil {
				return err
			}

			outcome := orchestrator.Process(cmd.Context(), input, filepath.Base(input))
			if outcome.OK() && strings.TrimSpace(outputPath) != "" {
				dest, err := config.ExpandPath(outputPath)
				if err != nil {
					return fmt.Errorf("resolve output: %w", err)
				}
				if err := fileutil.MoveFile(outcome.OutputPath, dest); err != nil {
					return fmt.Errorf("move result to %s: %w", dest, err)
				}
				outcome.OutputPath = dest
			}

			if jsonOut {
				if err := writeJSON(cmd, outcome); err != nil {
					return err
				}
			} else {
				printOutcome(out, outcome, shouldColorize(out))
			}
			if !outcome.OK() {
				return fmt.Errorf("sync failed: %s", outcome.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Move the synchronized file to this path")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Also write a debug log of this run to the given file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print structured logs to stdout")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the outcome as JSON")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the run in the session history")
	return cmd
}

func syncLogger(cfg *config.Config, verbose bool, logFile string) (*slog.Logger, func(), error) {
	var (
		logger *slog.Logger
		err    error
	)
	if verbose {
		logger, err = logging.NewFromConfig(cfg, nil)
	} else {
		logger, err = logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Format:      "json",
			OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "avsync-cli.log")},
		})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	if strings.TrimSpace(logFile) == "" {
		return logger, func() {}, nil
	}
	handler, closer, err := logging.NewFileHandler(logFile, "debug")
	if err != nil {
		return nil, nil, fmt.Errorf("open run log: %w", err)
	}
	return logging.TeeLogger(logger, handler), func() { _ = closer() }, nil
}

func printOutcome(out io.Writer, outcome workflow.Outcome, colorize bool) {
	switch outcome.Status {
	case workflow.StatusCorrected:
		fmt.Fprintln(out, renderStatusLine("Result", statusOK,
			fmt.Sprintf("Corrected by %d ms", outcome.TotalShiftMS), colorize))
	case workflow.StatusAlreadyInSync:
		fmt.Fprintln(out, renderStatusLine("Result", statusOK, "Already in sync", colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Result", statusError, outcome.Message, colorize))
		if outcome.Kind != "" {
			fmt.Fprintln(out, renderStatusLine("Kind", statusInfo, string(outcome.Kind), colorize))
		}
		if outcome.FinalOffsetMS != nil {
			fmt.Fprintln(out, renderStatusLine("Residual offset", statusWarn,
				fmt.Sprintf("%d ms", *outcome.FinalOffsetMS), colorize))
		}
	}
	if outcome.Iterations > 0 {
		fmt.Fprintln(out, renderStatusLine("Iterations", statusInfo, fmt.Sprintf("%d", outcome.Iterations), colorize))
	}
	if outcome.OutputPath != "" {
		fmt.Fprintln(out, renderStatusLine("Output", statusInfo, outcome.OutputPath, colorize))
	}
	if outcome.SessionID != 0 {
		fmt.Fprintln(out, renderStatusLine("Session", statusInfo, fmt.Sprintf("#%d", outcome.SessionID), colorize))
	}
}
