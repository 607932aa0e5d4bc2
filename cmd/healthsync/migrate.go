// ABOUTME: CLI command for moving sync state between storage backends.
// ABOUTME: Copies every cursor and sync timestamp key from one backend to another.
package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/healthsync/internal/config"
	"github.com/harperreed/healthsync/internal/kvstore"
)

var (
	migrateFrom   string
	migrateTo     string
	migrateDryRun bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy sync state between storage backends",
	Long: `Copy every cursor and sync timestamp from one backend to another.

Existing keys in the destination are overwritten. Run with --dry-run
first to see what would be copied, then point the config at the new
backend.

USAGE:

  healthsync migrate --from sqlite --to badger --dry-run
  healthsync migrate --from badger --to charm
  healthsync config set backend charm`,
	Annotations: map[string]string{skipSetup: "true"},
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		if migrateFrom == migrateTo {
			return fmt.Errorf("--from and --to must differ")
		}

		src, err := openBackend(c, migrateFrom)
		if err != nil {
			return err
		}
		defer src.Close()

		var dst kvstore.Store
		if !migrateDryRun {
			if dst, err = openBackend(c, migrateTo); err != nil {
				return err
			}
			defer dst.Close()
		} else {
			color.Yellow("Dry run mode - no changes will be made")
		}

		n, err := copyState(cmd.Context(), src, dst, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if migrateDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "%d keys would be copied\n", n)
			return nil
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ %d keys copied from %s to %s\n", n, migrateFrom, migrateTo)
		return nil
	},
}

func openBackend(c *config.Config, backend string) (kvstore.Store, error) {
	bc := *c
	bc.Backend = backend
	if err := bc.Validate(); err != nil {
		return nil, err
	}
	s, err := bc.OpenStorage(log.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", backend, err)
	}
	return s, nil
}

// copyState copies cursor and syncmeta keys. A nil dst only lists them.
func copyState(ctx context.Context, src, dst kvstore.Store, out io.Writer) (int, error) {
	n := 0
	for _, prefix := range []string{"cursor:", "syncmeta:"} {
		keys, err := src.Keys(ctx, prefix)
		if err != nil {
			return n, fmt.Errorf("failed to list %s keys: %w", prefix, err)
		}
		for _, k := range keys {
			v, err := src.Get(ctx, k)
			if err != nil {
				return n, fmt.Errorf("failed to read %s: %w", k, err)
			}
			if dst == nil {
				fmt.Fprintln(out, "  would copy", k)
			} else if err := dst.Set(ctx, k, v); err != nil {
				return n, fmt.Errorf("failed to write %s: %w", k, err)
			}
			n++
		}
	}
	return n, nil
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "sqlite", "source backend")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "badger", "destination backend")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "preview migration without making changes")
	rootCmd.AddCommand(migrateCmd)
}
