package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensensing/luxcap/pkg/cache"
	"github.com/opensensing/luxcap/pkg/chartapi"
	"github.com/opensensing/luxcap/pkg/config"
	"github.com/opensensing/luxcap/pkg/runsignal"
	"github.com/opensensing/luxcap/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chart consumer process",
	Long: `Start the chart consumer: poll the shared database for new readings
while the capture process is running and serve cached frames to the
rendering page over HTTP.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Closing store failed")
		}
	}()

	c := cache.New(log, st, cache.Config{
		MaxPoints: cfg.Chart.MaxPoints,
		Stride:    cfg.Chart.Stride,
	})

	runSig := runsignal.NewFileSignal(log, cfg.Global.ControlFile)

	srv := chartapi.NewServer(log, &cfg.Chart, st, c, runSig)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting chart api: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down chart consumer")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping chart api: %w", err)
	}

	return nil
}
