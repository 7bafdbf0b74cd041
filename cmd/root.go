package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "plume",
	Short: "PM2.5 interpolation and heatmap service",
	Long:  "Corrects low-cost sensor readings, interpolates them onto concentration grids via IDW or universal kriging, and serves the grids as GeoJSON and vector tiles.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
