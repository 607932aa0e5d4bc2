// ABOUTME: CLI commands for sync status and platform permissions.
// ABOUTME: Provides status and permissions grant/list.
package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/healthsync/internal/engine"
	"github.com/harperreed/healthsync/internal/models"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-metric sync state",
	Long: `Show the last sync time, due state and cursor presence of every metric key.

OUTPUT FORMAT:

  Each line shows: KEY  LAST SYNC  DUE  CURSOR  INTERVAL`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := eng.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(keys)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Source: %s\n\n", eng.Source())
		printStatus(cmd.OutOrStdout(), keys)
		return nil
	},
}

func printStatus(w io.Writer, keys []engine.KeyStatus) {
	faint := color.New(color.Faint)
	yellow := color.New(color.FgYellow)
	for _, k := range keys {
		last := faint.Sprint(padRight("never", 16))
		if k.LastSync != nil {
			last = padRight(k.LastSync.Local().Format("2006-01-02 15:04"), 16)
		}
		due := faint.Sprint("ok ")
		if k.Due {
			due = yellow.Sprint("due")
		}
		cur := faint.Sprint("-     ")
		if k.HasCursor {
			cur = "cursor"
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n", padRight(k.Key, 28), last, due, cur, faint.Sprint(k.MinInterval))
	}
}

var permissionsCmd = &cobra.Command{
	Use:     "permissions",
	Aliases: []string{"perms"},
	Short:   "Manage read permissions on the export",
}

var permissionsGrantCmd = &cobra.Command{
	Use:   "grant [metric...]",
	Short: "Grant read access to metrics (default: all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		metrics, err := models.ParseMetricTypes(splitList(args))
		if err != nil {
			return err
		}
		if len(metrics) == 0 {
			metrics = models.AllMetricTypes
		}
		if err := eng.RequestPermissions(cmd.Context(), metrics); err != nil {
			return fmt.Errorf("failed to grant permissions: %w", err)
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Granted %d metrics\n", len(metrics))
		return nil
	},
}

var permissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List granted metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		granted, err := source.GrantedMetrics(cmd.Context())
		if err != nil {
			return err
		}
		if len(granted) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No metrics granted.")
			return nil
		}
		for _, m := range models.SortMetrics(granted) {
			fmt.Fprintln(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")

	permissionsCmd.AddCommand(permissionsGrantCmd)
	permissionsCmd.AddCommand(permissionsListCmd)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(permissionsCmd)
}
