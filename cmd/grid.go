package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/plume-labs/plume/internal/model"
)

var (
	gridBBox        []float64
	gridResolution  int
	gridMethod      string
	gridTimestamp   string
	gridReadings    string
	gridCalibration string
	gridOut         string
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Compute one concentration grid and write it as GeoJSON",
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

		data, err := json.MarshalIndent(grid.FeatureCollection(), "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode geojson")
		}

		if gridOut == "" || gridOut == "-" {
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		}
		if err := os.WriteFile(gridOut, data, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", gridOut)
		}
		fmt.Printf("wrote %d points to %s (%d sensors, %dms)\n",
			len(grid.Points), gridOut, grid.Metadata.SensorsUsed, grid.Metadata.Stats.ElapsedMS)
		return nil
	},
}

func specFromFlags() (model.GridSpec, error) {
	var spec model.GridSpec
	if len(gridBBox) != 4 {
		return spec, &model.InvalidRequestError{Reason: "--bbox requires west,south,east,north"}
	}
	spec.BBox = model.BBox{West: gridBBox[0], South: gridBBox[1], East: gridBBox[2], North: gridBBox[3]}
	if err := spec.BBox.Validate(); err != nil {
		return spec, err
	}

	spec.ResolutionM = gridResolution
	spec.Method = model.Method(gridMethod)
	if err := spec.Method.Validate(); err != nil {
		return spec, err
	}

	if gridTimestamp != "" {
		t, err := time.Parse(time.RFC3339, gridTimestamp)
		if err != nil {
			return spec, &model.InvalidRequestError{Reason: "--timestamp must be RFC3339"}
		}
		spec.Timestamp = t
	}
	return spec, nil
}

func init() {
	gridCmd.Flags().Float64SliceVar(&gridBBox, "bbox", nil, "bounding box as west,south,east,north")
	gridCmd.Flags().IntVar(&gridResolution, "resolution", 500, "grid resolution in meters (100, 250, 500, 1000)")
	gridCmd.Flags().StringVar(&gridMethod, "method", "idw", "estimation method (idw or kriging)")
	gridCmd.Flags().StringVar(&gridTimestamp, "timestamp", "", "target time, RFC3339 (default latest)")
	gridCmd.Flags().StringVar(&gridReadings, "readings", "readings.json", "path to the sensor readings JSON file")
	gridCmd.Flags().StringVar(&gridCalibration, "calibration", "", "path to the calibration models JSON file")
	gridCmd.Flags().StringVarP(&gridOut, "out", "o", "-", "output path (- for stdout)")
	_ = gridCmd.MarkFlagRequired("bbox")
	rootCmd.AddCommand(gridCmd)
}
