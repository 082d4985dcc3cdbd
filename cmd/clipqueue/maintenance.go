package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getshortzy/clipqueue/monitor"
)

func cleanupCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed jobs older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cleanup, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if !cmd.Flags().Changed("days") {
				days = a.settings.CleanupRetentionDays
			}
			n, err := eng.Queue().Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d completed jobs older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default CLIPQUEUE_CLEANUP_RETENTION_DAYS)")
	return cmd
}

func statsCmd(a *app) *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print queue statistics and the performance summary as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cleanup, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := eng.Queue().GetQueueStats(cmd.Context())
			if err != nil {
				return err
			}
			w, err := monitor.ParseWindow(window)
			if err != nil {
				return err
			}
			summary, err := eng.Monitor().GetPerformanceSummary(cmd.Context(), w)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"queue":       stats,
				"performance": summary,
			})
		},
	}
	cmd.Flags().StringVar(&window, "window", "day", "summary window: hour, day, or week")
	return cmd
}

func healthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check store connectivity and grade system health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cleanup, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.Health(cmd.Context()); err != nil {
				return fmt.Errorf("store unhealthy: %w", err)
			}
			h, err := eng.Monitor().GetSystemHealth(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(h); err != nil {
				return err
			}
			if h.Status == monitor.Critical {
				return fmt.Errorf("system health critical: %v", h.Issues)
			}
			return nil
		},
	}
}
