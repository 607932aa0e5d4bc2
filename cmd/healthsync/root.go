// ABOUTME: Root Cobra command for the healthsync CLI.
// ABOUTME: Loads config, logger, KV store and sync engine in PersistentPreRunE.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/harperreed/healthsync/internal/config"
	"github.com/harperreed/healthsync/internal/engine"
	"github.com/harperreed/healthsync/internal/kvstore"
	"github.com/harperreed/healthsync/internal/logging"
	"github.com/harperreed/healthsync/internal/platform/filesource"
	"github.com/harperreed/healthsync/internal/upload"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// skipSetup marks commands that run without a store or engine.
const skipSetup = "skip-setup"

var (
	cfg       *config.Config
	appLogger *logging.Logger
	store     kvstore.Store
	source    *filesource.Source
	eng       *engine.Engine

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "healthsync",
	Short: "Incremental health data sync",
	Long: `healthsync uploads health metrics from a phone export to a remote service.

Each metric is read incrementally with a stored cursor, grouped into
hour-aligned batches and uploaded. A metric is only re-synced once its
minimum interval has passed, unless --force is given.

SYNC KINDS:

  intraday   steps, calories, active_calories, heart_rate
  daily      steps, calories, active_calories, resting_heart_rate
  profile    height, weight

QUICK START:

  $ healthsync config set upload_url https://health.example.com
  $ healthsync config set token <api token>
  $ healthsync permissions grant         # Allow reading every metric
  $ healthsync sync intraday             # Sync due intraday metrics
  $ healthsync status                    # Show per-metric sync state
  $ healthsync watch                     # Sync whenever the export changes

STATE:

  Cursors and sync timestamps live in a local Badger store under
  ~/.local/share/healthsync by default. Set backend to "charm" to keep
  them in Charm KV and follow your account across devices.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Annotations[skipSetup] == "true" {
			return nil
		}
		return setup()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "healthsync", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setup() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	appLogger, err = logging.New(logging.Options{
		Level: level,
		File:  config.ExpandPath(cfg.LogFile),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	store, err = cfg.OpenStorage(appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.GetBackend(), err)
	}

	source, eng, err = buildEngine(cfg, store, appLogger.Logger)
	return err
}

func teardown() error {
	var firstErr error
	if store != nil {
		firstErr = store.Close()
		store = nil
	}
	if appLogger != nil {
		if err := appLogger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		appLogger = nil
	}
	return firstErr
}

// buildEngine wires the export directory, upload client and store into an engine.
func buildEngine(cfg *config.Config, kv kvstore.Store, logger *log.Logger) (*filesource.Source, *engine.Engine, error) {
	floor, err := cfg.GetFloor()
	if err != nil {
		return nil, nil, err
	}
	intervals, err := cfg.GetIntervals()
	if err != nil {
		return nil, nil, err
	}

	src, err := filesource.New(cfg.GetExportDir())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open export directory: %w", err)
	}
	client := upload.NewClient(cfg.UploadURL, cfg.Token, cfg.GetSource(), upload.WithLogger(logger))

	e, err := engine.New(engine.Options{
		Source:          cfg.GetSource(),
		Store:           kv,
		Querier:         src,
		Permissions:     src,
		Uploader:        client,
		Intervals:       intervals,
		Floor:           floor,
		MaxLookbackDays: cfg.GetMaxLookbackDays(),
		Logger:          logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return src, e, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.SetErr(os.Stderr)
	rootCmd.AddCommand(versionCmd)
}
