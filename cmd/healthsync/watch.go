// ABOUTME: CLI command for the watch daemon.
// ABOUTME: Syncs on export changes and on a poll tick; optionally serves Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/healthsync/internal/observability"
	"github.com/harperreed/healthsync/internal/watch"
)

var (
	watchDebounce    time.Duration
	watchPoll        time.Duration
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync whenever the export directory changes",
	Long: `Run in the foreground and sync automatically.

A change to a metric's export file forces a sync of that metric for every
kind it belongs to. Every --poll interval, all kinds run a due-only sync.

With --metrics-addr, Prometheus metrics are served at /metrics.

EXAMPLES:

  healthsync watch
  healthsync watch --poll 15m --metrics-addr :9464`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dir := source.Dir()
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}

		addr := watchMetricsAddr
		if addr == "" {
			addr = cfg.MetricsAddr
		}
		if addr != "" {
			srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					appLogger.Error("metrics server stopped", "err", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			appLogger.Info("serving metrics", "addr", addr)
		}

		d, err := watch.New(eng, watch.Config{
			Dir:              dir,
			DebounceInterval: watchDebounce,
			PollInterval:     watchPoll,
			Logger:           appLogger.Logger,
		})
		if err != nil {
			return err
		}

		color.Green("✓ Watching %s", dir)
		fmt.Println("Press Ctrl+C to stop.")
		return d.Run(ctx)
	},
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "wait this long after a file change before syncing")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", 15*time.Minute, "run a due-only sync of every kind at this interval (0 disables)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}
