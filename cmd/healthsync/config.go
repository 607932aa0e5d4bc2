// ABOUTME: CLI commands for viewing and editing the config file.
// ABOUTME: Provides config show, set and path.
package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/healthsync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or edit configuration",
	Long: `View or edit the healthsync config file.

KEYS:

  backend             badger (default), sqlite, charm or memory
  data_dir            local state directory
  source              data source name (default: export)
  export_dir          directory the phone export writes to
  upload_url          remote service base URL
  token               bearer token for uploads
  floor_date          earliest day ever synced (YYYY-MM-DD)
  max_lookback_days   days a sync window reaches back (default 30, 0 = unlimited)
  intraday_interval   minimum resync interval, e.g. 15m (default 24h)
  daily_interval
  profile_interval
  log_level           debug, info, warn or error
  log_file            rotating log file path
  metrics_addr        Prometheus listen address for watch
  disable_auto_sync   stop pushing to Charm after every write

Every key can be overridden with HEALTHSYNC_<KEY> in the environment.`,
}

var configShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Print the effective configuration",
	Annotations: map[string]string{skipSetup: "true"},
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		shown := *c
		if shown.Token != "" {
			shown.Token = "********"
		}
		data, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:         "set <key> <value>",
	Short:       "Set a config value",
	Annotations: map[string]string{skipSetup: "true"},
	Args:        cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Edit the file as written, without environment overrides.
		c, err := config.LoadFile()
		if err != nil {
			return err
		}
		if err := c.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := c.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ %s updated\n", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Print the config file path",
	Annotations: map[string]string{skipSetup: "true"},
	Args:        cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
