package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensensing/luxcap/pkg/config"
	"github.com/opensensing/luxcap/pkg/export"
	"github.com/opensensing/luxcap/pkg/store"
)

var (
	exportID  uint
	exportAll bool
	exportDir string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export experiment readings to CSV",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().UintVar(&exportID, "id", 0, "Experiment id to export")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "Export all experiments")
	exportCmd.Flags().StringVar(&exportDir, "dir", ".", "Target directory")
}

func runExport(cmd *cobra.Command, args []string) error {
	if !exportAll && exportID == 0 {
		return fmt.Errorf("either --id or --all is required")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Closing store failed")
		}
	}()

	if exportAll {
		return export.All(ctx, log, st, exportDir)
	}

	return export.Experiment(ctx, log, st, exportID, exportDir)
}
