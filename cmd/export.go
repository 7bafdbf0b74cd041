package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plume-labs/plume/internal/export"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Compute a grid and export it as a point shapefile",
	Long:  "Runs the same estimation as the grid command and writes the result as an ESRI shapefile for GIS tooling. Reuses the grid flags for bbox, resolution and method.",
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := specFromFlags()
		if err != nil {
			return err
		}

		env, err := initEngine(cmd.Context(), gridCalibration)
		if err != nil {
			return err
		}
		defer env.Close()

		provider, err := newFileReadings(gridReadings)
		if err != nil {
			return err
		}
		raws, err := provider.Readings(cmd.Context(), spec.BBox, spec.Timestamp)
		if err != nil {
			return err
		}

		grid, err := env.engine.Grid(cmd.Context(), spec, raws)
		if err != nil {
			return err
		}

		if err := export.Shapefile(grid, exportOut); err != nil {
			return err
		}
		fmt.Printf("wrote %d points to %s\n", len(grid.Points), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().Float64SliceVar(&gridBBox, "bbox", nil, "bounding box as west,south,east,north")
	exportCmd.Flags().IntVar(&gridResolution, "resolution", 500, "grid resolution in meters (100, 250, 500, 1000)")
	exportCmd.Flags().StringVar(&gridMethod, "method", "idw", "estimation method (idw or kriging)")
	exportCmd.Flags().StringVar(&gridTimestamp, "timestamp", "", "target time, RFC3339 (default latest)")
	exportCmd.Flags().StringVar(&gridReadings, "readings", "readings.json", "path to the sensor readings JSON file")
	exportCmd.Flags().StringVar(&gridCalibration, "calibration", "", "path to the calibration models JSON file")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "grid.shp", "output shapefile path")
	_ = exportCmd.MarkFlagRequired("bbox")
	rootCmd.AddCommand(exportCmd)
}
