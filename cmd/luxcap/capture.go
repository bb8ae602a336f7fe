package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensensing/luxcap/pkg/capture"
	"github.com/opensensing/luxcap/pkg/config"
	"github.com/opensensing/luxcap/pkg/device"
	"github.com/opensensing/luxcap/pkg/runsignal"
	"github.com/opensensing/luxcap/pkg/store"
)

var (
	experimentName string
	simulated      bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run the capture process",
	Long: `Start an experiment: sample the configured device periodically and
append readings to the shared database until interrupted or the
configured maximum duration elapses.`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().StringVar(&experimentName, "name", "experiment",
		"Name of the experiment to record")
	captureCmd.Flags().BoolVar(&simulated, "simulated", false,
		"Use the simulated signal source instead of the hardware device")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if simulated {
		cfg.Device.Simulated = true
	}

	cfg.Device.Normalize(log)

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

	dev := device.New(log, cfg.Device)
	defer func() {
		if err := dev.Close(); err != nil {
			log.WithError(err).Warn("Closing device failed")
		}
	}()

	runSig := runsignal.NewFileSignal(log, cfg.Global.ControlFile)

	ctrl := capture.New(log, st, dev, runSig, capture.Config{
		SamplePeriod: cfg.Capture.SamplePeriod,
		MaxDuration:  cfg.Capture.MaxDuration,
	})

	if _, err := ctrl.Start(ctx, experimentName); err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down capture")
	cancel()

	if err := ctrl.Stop(); err != nil && !errors.Is(err, capture.ErrNotRunning) {
		return fmt.Errorf("stopping capture: %w", err)
	}

	return nil
}
