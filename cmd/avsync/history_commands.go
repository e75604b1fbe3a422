package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"avsync/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var statuses []string
	var jsonOut bool

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sync sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := make([]history.Status, 0, len(statuses))
			for _, s := range statuses {
				if s = strings.TrimSpace(s); s != "" {
					filter = append(filter, history.Status(s))
				}
			}
			sessions, err := store.List(cmd.Context(), limit, filter...)
			if err != nil {
				return err
			}
			if jsonOut {
				if sessions == nil {
					sessions = []*history.Session{}
				}
				return writeJSON(cmd, sessions)
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded")
				return nil
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{
					strconv.FormatInt(s.ID, 10),
					s.OriginalFilename,
					string(s.Status),
					strconv.Itoa(s.TotalShiftMS),
					strconv.Itoa(s.Iterations),
					formatAge(s.CreatedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]column{num("ID"), col("File"), col("Status"), num("Shift (ms)"), num("Iterations"), col("Started")},
				rows,
			))
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list")
	historyCmd.Flags().StringSliceVar(&statuses, "status", nil, "Only list sessions with these statuses")
	historyCmd.Flags().BoolVar(&jsonOut, "json", false, "Print sessions as JSON")

	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	return historyCmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one session and its iterations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			store, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			session, err := store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if session == nil {
				return fmt.Errorf("session %d not found", id)
			}
			iterations, err := store.Iterations(cmd.Context(), id)
			if err != nil {
				return err
			}
			if jsonOut {
				if iterations == nil {
					iterations = []history.Iteration{}
				}
				return writeJSON(cmd, map[string]any{"session": session, "iterations": iterations})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader(fmt.Sprintf("Session %d", session.ID), colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("File", statusInfo, session.OriginalFilename, colorize))
			fmt.Fprintln(out, renderStatusLine("Status", sessionStatusKind(session.Status), string(session.Status), colorize))
			if session.Reference != 0 {
				fmt.Fprintln(out, renderStatusLine("Reference", statusInfo, strconv.Itoa(session.Reference), colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Total shift", statusInfo, fmt.Sprintf("%d ms", session.TotalShiftMS), colorize))
			if session.FinalOffsetMS != nil {
				fmt.Fprintln(out, renderStatusLine("Residual offset", statusWarn, fmt.Sprintf("%d ms", *session.FinalOffsetMS), colorize))
			}
			if session.Message != "" {
				fmt.Fprintln(out, renderStatusLine("Message", statusInfo, session.Message, colorize))
			}
			if session.OutputPath != "" {
				fmt.Fprintln(out, renderStatusLine("Output", statusInfo, session.OutputPath, colorize))
			}
			if session.CompletedAt != nil {
				elapsed := session.CompletedAt.Sub(session.CreatedAt).Round(time.Second)
				fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, elapsed.String(), colorize))
			}
			if len(iterations) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			rows := make([][]string, 0, len(iterations))
			for _, it := range iterations {
				rows = append(rows, []string{
					strconv.Itoa(it.Iteration),
					strconv.Itoa(it.OffsetMS),
					strconv.FormatFloat(it.Confidence, 'f', 3, 64),
					strconv.Itoa(it.TotalShiftMS),
					it.State,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]column{num("#"), num("Offset (ms)"), num("Confidence"), num("Total shift (ms)"), col("State")},
				rows,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the session as JSON")
	return cmd
}

func openHistory(ctx *commandContext) (*history.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

func sessionStatusKind(status history.Status) statusKind {
	switch status {
	case history.StatusCorrected, history.StatusAlreadyInSync:
		return statusOK
	case history.StatusError:
		return statusError
	default:
		return statusInfo
	}
}
