package interp

import (
	"context"
	"math"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plume-labs/plume/internal/geo"
	"github.com/plume-labs/plume/internal/model"
)

// IDW is the inverse-distance-weighted estimator with inverse-variance
// sensor weighting. Construct via New.
type IDW struct {
	params Params
}

// Method reports model.MethodIDW.
func (e *IDW) Method() model.Method { return model.MethodIDW }

// Estimate interpolates a concentration surface over the spec's bbox. Cells
// with fewer than MinNeighbors sensors in range are omitted, never
// extrapolated. Zero sensors in range everywhere yields an empty grid, not
// an error. The covariate field is ignored; IDW carries no drift term.
func (e *IDW) Estimate(ctx context.Context, sensors []model.SensorReading, spec model.GridSpec, _ *model.CovariateField) (*model.Grid, error) {
	if err := spec.BBox.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	plan := geo.PlanGrid(spec.BBox, spec.ResolutionM, e.params.MaxCells)
	rows := make([][]model.GridPoint, plan.Rows)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.params.Workers)
	for r := 0; r < plan.Rows; r++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lat := spec.BBox.South + float64(r)*plan.SpacingDeg
			var row []model.GridPoint
			for c := 0; c < plan.Cols; c++ {
				lon := spec.BBox.West + float64(c)*plan.SpacingDeg
				if p, ok := e.estimatePoint(sensors, lat, lon); ok {
					row = append(row, p)
				}
			}
			rows[r] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var points []model.GridPoint
	for _, row := range rows {
		points = append(points, row...)
	}

	grid := &model.Grid{
		Points: points,
		Metadata: model.GridMetadata{
			Method:      model.MethodIDW,
			BBox:        spec.BBox,
			ResolutionM: spec.ResolutionM,
			SensorsUsed: len(sensors),
			Parameters: map[string]string{
				"power":           strconv.FormatFloat(e.params.Power, 'f', -1, 64),
				"search_radius_m": strconv.FormatFloat(e.params.SearchRadiusM, 'f', -1, 64),
				"min_neighbors":   strconv.Itoa(e.params.MinNeighbors),
			},
			Stats: model.ProcessingStats{
				PointsRequested: plan.Rows * plan.Cols,
				PointsEstimated: len(points),
				PointsOmitted:   plan.Rows*plan.Cols - len(points),
				ElapsedMS:       time.Since(start).Milliseconds(),
			},
		},
	}
	return grid, nil
}

// estimatePoint computes one cell. The second return is false when the cell
// must be omitted for lack of neighbors.
func (e *IDW) estimatePoint(sensors []model.SensorReading, lat, lon float64) (model.GridPoint, bool) {
	nbrs := neighborsWithin(sensors, lat, lon, e.params.SearchRadiusM)
	if len(nbrs) < e.params.MinNeighbors {
		return model.GridPoint{}, false
	}

	var (
		weightSum   float64
		valueSum    float64
		varianceSum float64 // sum(w * sigma^2)
		distSum     float64
	)
	for _, nb := range nbrs {
		s := sensors[nb.idx]
		sigma := s.SigmaI
		if sigma <= 0 {
			sigma = DefaultCalibrationSigma
		}
		w := 1 / math.Pow(nb.distM, e.params.Power) / (sigma * sigma)
		weightSum += w
		valueSum += w * s.CorrectedPM25
		varianceSum += w * sigma * sigma
		distSum += nb.distM
	}

	estimate := valueSum / weightSum
	if estimate < 0 {
		estimate = 0
	}

	interpTerm := 1 / math.Sqrt(weightSum)
	calibTerm := math.Sqrt(varianceSum / weightSum)
	uncertainty := e.params.clampUncertainty(math.Hypot(interpTerm, calibTerm))

	return model.GridPoint{
		Latitude:    lat,
		Longitude:   lon,
		CHat:        estimate,
		Uncertainty: uncertainty,
		NEff:        len(nbrs),
		Diagnostics: model.Diagnostics{
			IDW: &model.IDWDiagnostics{
				NeighborCount: len(nbrs),
				MeanDistanceM: distSum / float64(len(nbrs)),
				WeightSum:     weightSum,
			},
		},
	}, true
}
