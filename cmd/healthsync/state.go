// ABOUTME: CLI commands for Charm-backed sync state.
// ABOUTME: Supports link, unlink, status, repair and wipe of the Charm KV database.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/charmbracelet/charm/kv"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/healthsync/internal/kvstore"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage Charm-backed sync state",
	Long: `Manage sync state kept in Charm KV (backend = "charm").

With the charm backend, cursors and sync timestamps are E2E encrypted with
your SSH key and follow your Charm account, so a second device does not
re-upload what the first already synced.

COMMANDS:

  link        Link this device to your Charm account
  unlink      Disconnect this device from Charm
  status      Show account and stored key counts
  repair      Repair database corruption (checkpoints WAL, removes SHM, vacuums)
  wipe        Delete cloud and local sync state (destructive)`,
}

var stateLinkCmd = &cobra.Command{
	Use:         "link",
	Short:       "Link this device to Charm",
	Annotations: map[string]string{skipSetup: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runCharm("link"); err != nil {
			return fmt.Errorf("failed to link: %w\n\nMake sure 'charm' CLI is installed: go install github.com/charmbracelet/charm@latest", err)
		}
		color.Green("\n✓ Device linked to Charm")
		fmt.Println("Set the backend with: healthsync config set backend charm")
		return nil
	},
}

var stateUnlinkCmd = &cobra.Command{
	Use:         "unlink",
	Short:       "Disconnect from Charm",
	Annotations: map[string]string{skipSetup: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runCharm("unlink"); err != nil {
			return fmt.Errorf("failed to unlink: %w", err)
		}
		color.Green("✓ Device unlinked from Charm")
		return nil
	},
}

var stateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Charm sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		charmStore, ok := store.(*kvstore.Charm)
		if !ok {
			color.Yellow("Backend is %q, not charm", cfg.GetBackend())
			fmt.Println("\nRun 'healthsync config set backend charm' to keep sync state in Charm.")
			return nil
		}

		id, err := charmStore.ID()
		if err != nil {
			color.Yellow("Not linked to Charm")
			fmt.Println("\nRun 'healthsync state link' to connect to Charm.")
			return nil
		}
		fmt.Println("Charm ID:", id)
		if charmStore.IsReadOnly() {
			color.Yellow("⚠ Database is locked by another process (read-only)")
		}

		if err := charmStore.Sync(); err != nil {
			color.Yellow("⚠ Sync failed: %v", err)
		} else {
			color.Green("✓ Connected to Charm")
		}

		cursors, _ := store.Keys(cmd.Context(), "cursor:")
		meta, _ := store.Keys(cmd.Context(), "syncmeta:")
		fmt.Printf("  Cursors: %d\n", len(cursors))
		fmt.Printf("  Sync timestamps: %d\n", len(meta))
		return nil
	},
}

var stateRepairCmd = &cobra.Command{
	Use:         "repair",
	Short:       "Repair database corruption",
	Annotations: map[string]string{skipSetup: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		fmt.Println("Repairing sync state database...")
		result, err := kv.Repair(kvstore.CharmDBName, force)

		if result.WalCheckpointed {
			color.Green("  ✓ WAL checkpointed")
		}
		if result.ShmRemoved {
			color.Green("  ✓ SHM file removed")
		}
		if result.IntegrityOK {
			color.Green("  ✓ Integrity check passed")
		} else {
			color.Red("  ✗ Integrity check failed")
		}
		if result.Vacuumed {
			color.Green("  ✓ Database vacuumed")
		}

		if err != nil {
			if !force {
				color.Yellow("\nRun with --force to attempt recovery.")
			}
			return fmt.Errorf("repair failed: %w", err)
		}

		color.Green("\n✓ Repair complete")
		return nil
	},
}

var stateWipeCmd = &cobra.Command{
	Use:         "wipe",
	Short:       "Delete all cloud and local sync state",
	Annotations: map[string]string{skipSetup: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("This will PERMANENTLY DELETE all Charm sync state. Every metric will re-sync from scratch.")
		fmt.Print("Type 'wipe' to confirm: ")
		var confirm string
		_, _ = fmt.Scanln(&confirm)
		if confirm != "wipe" {
			fmt.Println("Canceled.")
			return nil
		}

		result, err := kv.Wipe(kvstore.CharmDBName)
		if err != nil {
			return fmt.Errorf("wipe failed: %w", err)
		}

		color.Green("✓ Sync state wiped")
		fmt.Printf("  Cloud backups deleted: %d\n", result.CloudBackupsDeleted)
		fmt.Printf("  Local files deleted: %d\n", result.LocalFilesDeleted)
		return nil
	},
}

func runCharm(arg string) error {
	charmCmd := exec.Command("charm", arg)
	charmCmd.Stdin = os.Stdin
	charmCmd.Stdout = os.Stdout
	charmCmd.Stderr = os.Stderr
	return charmCmd.Run()
}

func init() {
	stateCmd.AddCommand(stateLinkCmd)
	stateCmd.AddCommand(stateUnlinkCmd)
	stateCmd.AddCommand(stateStatusCmd)
	stateCmd.AddCommand(stateRepairCmd)
	stateCmd.AddCommand(stateWipeCmd)

	stateRepairCmd.Flags().Bool("force", false, "Attempt recovery even if integrity checks fail")

	rootCmd.AddCommand(stateCmd)
}
