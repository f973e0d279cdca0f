// This file implements the run command, the daemon's main entrypoint.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adalundhe/docrelay/core/config"
	"github.com/adalundhe/docrelay/core/logging"
	"github.com/adalundhe/docrelay/core/pipeline"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the watch-and-relay pipeline",
	Long: `Run starts one watcher per configured root, the coalescing store and
the dispatch scheduler, then blocks until SIGINT or SIGTERM.

Examples:
  docrelay run --config /etc/docrelay/docrelay.yaml`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "docrelay.yaml", "path to the configuration file")
	rootCmd.AddCommand(runCmd)
}

// runPipeline loads configuration and drives the pipeline to completion.
// Configuration problems are the only failures that abort the process.
func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logger := logging.New(cfg.Logging)
	logger.Info("starting docrelay",
		slog.Int("roots", len(cfg.Watch.Roots)),
		slog.String("sink", cfg.Sink.BaseURL),
		slog.Duration("interval", cfg.Dispatch.Interval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(cfg, logger)

	if cfg.Watch.WaitForInitialScans {
		go func() {
			<-p.Ready()
			logger.Info("warm-up complete")
		}()
	}

	return p.Run(ctx)
}
