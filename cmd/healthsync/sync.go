// ABOUTME: CLI commands that run sync jobs and clear sync state.
// ABOUTME: Provides sync intraday|daily|profile and clear.
package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/healthsync/internal/engine"
	"github.com/harperreed/healthsync/internal/models"
)

var (
	syncMetrics []string
	syncForce   bool
	syncStart   string
	syncEnd     string
	clearYes    bool
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Aliases: []string{"s"},
	Short:   "Sync health metrics to the remote service",
	Long: `Sync one kind of health metrics to the remote service.

Metrics that were synced within their minimum interval are skipped
unless --force is given. The window defaults to the last
max_lookback_days days and never reaches before floor_date.

EXAMPLES:

  healthsync sync intraday                        # All due intraday metrics
  healthsync sync daily -m steps,calories         # Only these metrics
  healthsync sync intraday --force                # Ignore the interval
  healthsync sync profile --start 2025-01-01      # Custom window start`,
}

func newKindCmd(kind models.SyncKind) *cobra.Command {
	names := make([]string, 0)
	for _, m := range models.MetricsForKind(kind) {
		names = append(names, string(m))
	}
	return &cobra.Command{
		Use:   string(kind),
		Short: fmt.Sprintf("Sync %s metrics (%s)", kind, strings.Join(names, ", ")),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metrics, err := models.ParseMetricTypes(splitList(syncMetrics))
			if err != nil {
				return err
			}
			opts, err := runOptions(syncForce, syncStart, syncEnd)
			if err != nil {
				return err
			}
			o, err := eng.Run(cmd.Context(), kind, metrics, opts...)
			if err != nil {
				return fmt.Errorf("sync not started: %w", err)
			}
			printOutcome(cmd.OutOrStdout(), o)
			if o.Err != nil {
				return fmt.Errorf("%s sync failed: %w", kind, o.Err)
			}
			return nil
		},
	}
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear every cursor and sync timestamp",
	Long: `Clear every stored cursor and sync timestamp of the data source.

The next sync of each metric reads its whole window again and uploads it.
The remote service deduplicates by idempotency key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			fmt.Fprint(cmd.OutOrStdout(), "This will reset sync state for every metric. Continue? [y/N]: ")
			var confirm string
			_, _ = fmt.Fscanln(cmd.InOrStdin(), &confirm)
			if confirm != "y" && confirm != "Y" {
				fmt.Fprintln(cmd.OutOrStdout(), "Canceled.")
				return nil
			}
		}
		o, err := eng.ClearAllCursorsAndMetadata(cmd.Context())
		if err != nil {
			return fmt.Errorf("clear not started: %w", err)
		}
		printOutcome(cmd.OutOrStdout(), o)
		return o.Err
	},
}

// runOptions turns CLI flags into engine run options.
func runOptions(force bool, start, end string) ([]engine.RunOption, error) {
	var opts []engine.RunOption
	if force {
		opts = append(opts, engine.WithForce())
	}
	if start == "" && end == "" {
		return opts, nil
	}
	var startT, endT *time.Time
	if start != "" {
		t, err := parseTime(start)
		if err != nil {
			return nil, fmt.Errorf("invalid --start: %w", err)
		}
		startT = &t
	}
	if end != "" {
		t, err := parseTime(end)
		if err != nil {
			return nil, fmt.Errorf("invalid --end: %w", err)
		}
		endT = &t
	}
	return append(opts, engine.WithRange(startT, endT)), nil
}

// parseTime accepts RFC3339, "2006-01-02 15:04", "2006-01-02T15:04" or a bare date.
// Times without a zone are local.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// splitList flattens repeated and comma-separated flag values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func printOutcome(w io.Writer, o *engine.SyncOutcome) {
	faint := color.New(color.Faint)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	if o.Operation == engine.OpClear {
		if o.Err == nil {
			green.Fprintf(w, "✓ Cleared %d cursors and %d sync timestamps\n", o.ClearedCursors, o.ClearedMetadata)
		}
	} else {
		for _, r := range o.Results {
			switch r.Status {
			case engine.StatusSynced:
				note := ""
				if r.CursorReset {
					note = yellow.Sprint(" (cursor reset)")
				}
				fmt.Fprintf(w, "%s %s %d samples, %d batches%s\n",
					green.Sprint("✓"), padRight(string(r.Metric), 20), r.Samples, r.Batches, note)
			case engine.StatusSkipped:
				fmt.Fprintf(w, "%s %s %s\n", faint.Sprint("-"), padRight(string(r.Metric), 20), faint.Sprint("not due"))
			}
		}
	}
	if o.Err != nil {
		red.Fprintf(w, "✗ %s [%s]\n", o.Err, o.ErrorKind())
	}
	faint.Fprintf(w, "job %s  %s\n", shortID(o.JobID), o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

func init() {
	for _, kind := range models.AllSyncKinds {
		syncCmd.AddCommand(newKindCmd(kind))
	}
	syncCmd.PersistentFlags().StringSliceVarP(&syncMetrics, "metrics", "m", nil, "metrics to sync (default: every metric of the kind)")
	syncCmd.PersistentFlags().BoolVarP(&syncForce, "force", "f", false, "sync even when not due")
	syncCmd.PersistentFlags().StringVar(&syncStart, "start", "", "window start (YYYY-MM-DD or RFC3339)")
	syncCmd.PersistentFlags().StringVar(&syncEnd, "end", "", "window end (YYYY-MM-DD or RFC3339)")

	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "skip confirmation prompt")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(clearCmd)
}
