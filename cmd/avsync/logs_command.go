package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"avsync/internal/config"
	"avsync/internal/logging"
	"avsync/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow    bool
		lines     int
		component string
		reference int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display server logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			query := logs.StreamQuery{Limit: lines, Tail: true, Component: component, Reference: reference}
			if err := streamLogsFromAPI(cmd, cfg, query, follow); err == nil {
				return nil
			} else if !logs.IsAPIUnavailable(err) {
				return err
			}
			if component != "" || reference != 0 {
				return errors.New("filters require a running server; start one with `avsync serve`")
			}
			return tailLogFile(cmd, filepath.Join(cfg.Paths.LogDir, "avsync.log"), lines, follow)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of lines to show")
	cmd.Flags().StringVar(&component, "component", "", "Only show events from this component")
	cmd.Flags().IntVar(&reference, "reference", 0, "Only show events for this session reference")
	return cmd
}

func streamLogsFromAPI(cmd *cobra.Command, cfg *config.Config, query logs.StreamQuery, follow bool) error {
	client, err := logs.NewStreamClient(cfg.Server.Bind, cfg.Server.APIToken)
	if err != nil {
		return err
	}
	if query.Limit <= 0 {
		query.Limit = 200
	}

	out := cmd.OutOrStdout()
	printed := false
	for {
		resp, err := client.Fetch(cmd.Context(), query)
		if err != nil {
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		}
		for _, evt := range resp.Events {
			fmt.Fprintln(out, formatLogEvent(evt))
			printed = true
		}
		if !follow {
			if !printed {
				fmt.Fprintln(out, "No log entries available")
			}
			return nil
		}
		query.Since = resp.Next
		query.Limit = 200
		query.Tail = false
		query.Follow = true
	}
}

func tailLogFile(cmd *cobra.Command, path string, lines int, follow bool) error {
	out := cmd.OutOrStdout()
	result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines})
	if err != nil {
		return err
	}
	for _, line := range result.Lines {
		fmt.Fprintln(out, line)
	}
	if !follow {
		if len(result.Lines) == 0 {
			fmt.Fprintln(out, "No log entries available")
		}
		return nil
	}
	offset := result.Offset
	for cmd.Context().Err() == nil {
		result, err = logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: offset, Follow: true, Wait: time.Second})
		if err != nil {
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		}
		for _, line := range result.Lines {
			fmt.Fprintln(out, line)
		}
		offset = result.Offset
	}
	return nil
}

func formatLogEvent(evt logging.LogEvent) string {
	level := strings.ToUpper(strings.TrimSpace(evt.Level))
	if level == "" {
		level = "INFO"
	}
	parts := []string{evt.Timestamp.Local().Format("2006-01-02 15:04:05"), level}
	if evt.Component != "" {
		parts = append(parts, "["+evt.Component+"]")
	}
	if evt.Reference > 0 {
		parts = append(parts, fmt.Sprintf("#%d", evt.Reference))
	}
	line := strings.Join(parts, " ")
	if msg := strings.TrimSpace(evt.Message); msg != "" {
		line += " - " + msg
	}
	return line
}
