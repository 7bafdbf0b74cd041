package geo

import (
	"math"

	"github.com/plume-labs/plume/internal/model"
)

// GridLocation is one cell center of a regular lat/lon grid.
type GridLocation struct {
	Lat float64
	Lon float64
}

// GridPlan describes the realized grid for a bbox+resolution pair. The
// realized spacing can be coarser than requested when the cell count would
// exceed maxCells.
type GridPlan struct {
	SpacingDeg float64
	Rows       int
	Cols       int
	Coarsened  bool
}

// PlanGrid computes the grid layout for a bbox at resolutionM meters,
// auto-coarsening the spacing so Rows*Cols never exceeds maxCells.
func PlanGrid(bbox model.BBox, resolutionM int, maxCells int) GridPlan {
	spacing := MetersToDegrees(float64(resolutionM))
	plan := GridPlan{SpacingDeg: spacing}
	plan.Rows, plan.Cols = dims(bbox, spacing)

	for maxCells > 0 && plan.Rows*plan.Cols > maxCells {
		// Scale spacing by the areal excess; sqrt keeps the aspect ratio.
		factor := math.Sqrt(float64(plan.Rows*plan.Cols) / float64(maxCells))
		plan.SpacingDeg *= factor
		plan.Coarsened = true
		plan.Rows, plan.Cols = dims(bbox, plan.SpacingDeg)
	}
	return plan
}

func dims(bbox model.BBox, spacing float64) (rows, cols int) {
	rows = int((bbox.North-bbox.South)/spacing) + 1
	cols = int((bbox.East-bbox.West)/spacing) + 1
	return rows, cols
}

// Locations materializes the grid cell centers row-major from the
// south-west corner.
func (p GridPlan) Locations(bbox model.BBox) []GridLocation {
	locs := make([]GridLocation, 0, p.Rows*p.Cols)
	for r := 0; r < p.Rows; r++ {
		lat := bbox.South + float64(r)*p.SpacingDeg
		for c := 0; c < p.Cols; c++ {
			locs = append(locs, GridLocation{Lat: lat, Lon: bbox.West + float64(c)*p.SpacingDeg})
		}
	}
	return locs
}

// EstimatePointCount returns the nominal (pre-coarsening) cell count for a
// bbox at the given resolution. Used by cache admission control.
func EstimatePointCount(bbox model.BBox, resolutionM int) int {
	spacing := MetersToDegrees(float64(resolutionM))
	rows, cols := dims(bbox, spacing)
	return rows * cols
}
