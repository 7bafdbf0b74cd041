package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/server"
	"github.com/plume-labs/plume/internal/tile"
)

var (
	serveReadingsPath    string
	serveCalibrationPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the grid and tile HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, serveCalibrationPath)
		if err != nil {
			return err
		}
		defer env.Close()

		provider, err := newFileReadings(serveReadingsPath)
		if err != nil {
			return err
		}

		srv := server.New(env.engine, provider, tile.Options{
			UncertaintyThreshold: cfg.Tile.UncertaintyThreshold,
			BufferFraction:       cfg.Tile.BufferFraction,
		}, cfg.Server, zap.L())

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("cache_driver", cfg.Cache.Driver),
			zap.Int("readings", len(provider.raws)))

		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveReadingsPath, "readings", "readings.json", "path to the sensor readings JSON file")
	serveCmd.Flags().StringVar(&serveCalibrationPath, "calibration", "", "path to the calibration models JSON file")
	rootCmd.AddCommand(serveCmd)
}
