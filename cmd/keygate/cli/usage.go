package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect and trim recorded usage",
		Long:  "Show per-key and global usage statistics, query the request log, and purge old log rows.",
	}

	cmd.AddCommand(newUsageStatsCmd())
	cmd.AddCommand(newUsageOverviewCmd())
	cmd.AddCommand(newUsageLogsCmd())
	cmd.AddCommand(newUsagePurgeCmd())

	return cmd
}

// ---------- usage stats ----------

func newUsageStatsCmd() *cobra.Command {
	var (
		period     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats <id|prefix>",
		Short: "Usage statistics for one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := resolveKey(cmd.Context(), a.keys, args[0])
			if err != nil {
				return err
			}
			stats, err := a.stats.KeyStats(cmd.Context(), key.ID, period)
			if err != nil {
				return fmt.Errorf("key stats: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, stats)
			}
			fmt.Fprintf(out, "%s (%s), last %s\n\n", stats.Key.Label, stats.Key.KeyPrefix, stats.Period)
			printSummary(out, stats.Summary)
			if len(stats.Endpoints) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "%-40s %-10s %-8s %-10s\n", "ENDPOINT", "REQUESTS", "ERRORS", "AVG MS")
				for _, e := range stats.Endpoints {
					fmt.Fprintf(out, "%-40s %-10d %-8d %-10.1f\n",
						truncate(e.Endpoint, 40), e.RequestCount, e.ErrorCount, e.AvgResponseTimeMs())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", model.DefaultPeriod, "Period: 1h, 24h, 7d or 30d")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- usage overview ----------

func newUsageOverviewCmd() *cobra.Command {
	var (
		period     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Usage across all keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ov, err := a.stats.Overview(cmd.Context(), period)
			if err != nil {
				return fmt.Errorf("usage overview: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, ov)
			}
			fmt.Fprintf(out, "Last %s\n\n", ov.Period)
			fmt.Fprintf(out, "  Keys:         %d (%d active, %d inactive)\n", ov.TotalKeys, ov.ActiveKeys, ov.InactiveKeys)
			printSummary(out, ov.Summary)
			if len(ov.TopEndpoints) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Top endpoints:")
				for _, e := range ov.TopEndpoints {
					fmt.Fprintf(out, "  %-40s %d\n", truncate(e.Endpoint, 40), e.TotalRequests)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", model.DefaultPeriod, "Period: 1h, 24h, 7d or 30d")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- usage logs ----------

func newUsageLogsCmd() *cobra.Command {
	var (
		keyRef     string
		endpoint   string
		method     string
		status     int
		period     string
		limit      int
		offset     int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the request log",
		Example: `  keygate usage logs --key kg_1a2b3c4d --status 429
  keygate usage logs --endpoint /orders --period 7d --limit 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !validStatus(status) {
				return fmt.Errorf("--status %d is not an HTTP status code", status)
			}

			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			_, since := model.ResolvePeriod(period, time.Now())
			filter := model.LogFilter{
				Endpoint:   endpoint,
				Method:     strings.ToUpper(method),
				StatusCode: status,
				Since:      since,
				Limit:      limit,
				Offset:     offset,
			}
			if keyRef != "" {
				key, err := resolveKey(cmd.Context(), a.keys, keyRef)
				if err != nil {
					return err
				}
				filter.KeyID = key.ID
			}

			logs, total, err := a.stats.Logs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("query logs: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]interface{}{"logs": logs, "total": total})
			}
			if len(logs) == 0 {
				fmt.Fprintln(out, "No matching requests.")
				return nil
			}
			fmt.Fprintf(out, "%-20s %-36s %-7s %-40s %-6s %-8s\n", "TIME", "KEY", "METHOD", "ENDPOINT", "STATUS", "MS")
			for _, e := range logs {
				fmt.Fprintf(out, "%-20s %-36s %-7s %-40s %-6d %-8d\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.KeyID, e.Method,
					truncate(e.Endpoint, 40), e.StatusCode, e.ResponseTimeMs)
			}
			fmt.Fprintf(out, "\nShowing %d of %d\n", len(logs), total)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyRef, "key", "", "Only requests made with this key (ID or prefix)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Only endpoints containing this text")
	cmd.Flags().StringVar(&method, "method", "", "Only this HTTP method")
	cmd.Flags().IntVar(&status, "status", 0, "Only this status code")
	cmd.Flags().StringVar(&period, "period", model.DefaultPeriod, "Period: 1h, 24h, 7d or 30d")
	cmd.Flags().IntVar(&limit, "limit", service.DefaultLogPageSize, "Maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- usage purge ----------

func newUsagePurgeCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete request log rows older than N days",
		Long: `Delete request log rows older than N days. Per-key counters and endpoint
rollups are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.stats.PurgeOlderThan(cmd.Context(), days)
			if err != nil {
				return fmt.Errorf("purge logs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d log entries older than %d days\n", n, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "older-than-days", 0, "Age threshold in days (required, at least 1)")
	cmd.MarkFlagRequired("older-than-days")

	return cmd
}

// ---------- sweep ----------

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate every key whose expiry has passed",
		Long:  "Run the expired-key sweep once. A running server does this on the sweep.schedule cron spec.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.keys.DeactivateExpired(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("sweep expired keys: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %d expired keys\n", n)
			return nil
		},
	}
}

func printSummary(w io.Writer, s model.UsageSummary) {
	fmt.Fprintf(w, "  Requests:     %d\n", s.TotalRequests)
	fmt.Fprintf(w, "  Errors:       %d\n", s.ErrorCount)
	fmt.Fprintf(w, "  Success rate: %.2f%%\n", s.SuccessRate())
	fmt.Fprintf(w, "  Avg latency:  %.1f ms\n", s.AvgResponseTimeMs)
}

// validStatus accepts zero (no filter) or a registered HTTP status code.
func validStatus(code int) bool {
	return code == 0 || (code >= 100 && code <= 599 && http.StatusText(code) != "")
}
