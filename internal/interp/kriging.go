package interp

import (
	"context"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gonum.org/v1/gonum/mat"

	"github.com/plume-labs/plume/internal/geo"
	"github.com/plume-labs/plume/internal/model"
)

// Kriging is the universal-kriging estimator with external drift.
// Construct via New.
type Kriging struct {
	params Params
}

// Method reports model.MethodKriging.
func (e *Kriging) Method() model.Method { return model.MethodKriging }

// Estimate fits a variogram to the sensors' detrended residuals and solves
// a local universal-kriging system per grid cell. Cells with fewer than
// MinNeighbors sensors in range, or whose local system is numerically
// singular, are omitted; neither condition fails the request. The fitted
// (or fallback) variogram is always recorded in the grid metadata.
func (e *Kriging) Estimate(ctx context.Context, sensors []model.SensorReading, spec model.GridSpec, covariates *model.CovariateField) (*model.Grid, error) {
	if err := spec.BBox.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	vg := FitVariogram(sensors, covariates)
	basis := newDriftBasis(sensors, covariates)
	plan := geo.PlanGrid(spec.BBox, spec.ResolutionM, e.params.MaxCells)

	var cov *mat.SymDense
	if len(sensors) >= e.params.MinNeighbors {
		cov = regularizeToPD(covarianceMatrix(sensors, vg))
	}

	rows := make([][]model.GridPoint, plan.Rows)
	var singular atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.params.Workers)
	for r := 0; r < plan.Rows; r++ {
		g.Go(func() error {
			lat := spec.BBox.South + float64(r)*plan.SpacingDeg
			var row []model.GridPoint
			for c := 0; c < plan.Cols; c++ {
				// Each cell is independent, so cancellation between cells is safe.
				if err := gctx.Err(); err != nil {
					return err
				}
				if cov == nil {
					continue
				}
				lon := spec.BBox.West + float64(c)*plan.SpacingDeg
				p, err := e.estimatePoint(sensors, cov, vg, basis, lat, lon)
				if err != nil {
					if model.IsInsufficientData(err) {
						singular.Add(1)
						continue
					}
					return err
				}
				row = append(row, p)
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

	vgCopy := vg
	grid := &model.Grid{
		Points: points,
		Metadata: model.GridMetadata{
			Method:      model.MethodKriging,
			BBox:        spec.BBox,
			ResolutionM: spec.ResolutionM,
			SensorsUsed: len(sensors),
			Variogram:   &vgCopy,
			Parameters: map[string]string{
				"search_radius_m": strconv.FormatFloat(e.params.SearchRadiusM, 'f', -1, 64),
				"min_neighbors":   strconv.Itoa(e.params.MinNeighbors),
				"max_neighbors":   strconv.Itoa(e.params.MaxNeighbors),
				"variogram":       string(vg.Kind),
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

// estimatePoint solves the local universal-kriging system for one cell.
// Errors are per-point: InsufficientDataError and SingularSystemError both
// mean "omit this cell".
func (e *Kriging) estimatePoint(
	sensors []model.SensorReading,
	cov *mat.SymDense,
	vg model.VariogramModel,
	basis driftBasis,
	lat, lon float64,
) (model.GridPoint, error) {
	nbrs := neighborsWithin(sensors, lat, lon, e.params.SearchRadiusM)
	if len(nbrs) < e.params.MinNeighbors {
		return model.GridPoint{}, &model.InsufficientDataError{Needed: e.params.MinNeighbors, Found: len(nbrs)}
	}
	if len(nbrs) > e.params.MaxNeighbors {
		nbrs = nbrs[:e.params.MaxNeighbors]
	}

	m := len(nbrs)
	p := basis.size()
	dim := m + p

	// Augmented system: [C F; F' 0] [w; mu] = [c; f0].
	a := mat.NewDense(dim, dim, nil)
	rhs := mat.NewVecDense(dim, nil)
	for i, ni := range nbrs {
		for j, nj := range nbrs {
			a.Set(i, j, cov.At(ni.idx, nj.idx))
		}
		drift := basis.vector(sensors[ni.idx].Latitude, sensors[ni.idx].Longitude)
		for k, f := range drift {
			a.Set(i, m+k, f)
			a.Set(m+k, i, f)
		}
		rhs.SetVec(i, vg.Covariance(ni.distM))
	}
	f0 := basis.vector(lat, lon)
	for k, f := range f0 {
		rhs.SetVec(m+k, f)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, rhs); err != nil {
		return model.GridPoint{}, &model.SingularSystemError{Size: dim}
	}

	var estimate, covDot float64
	for i, nb := range nbrs {
		w := sol.AtVec(i)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return model.GridPoint{}, &model.SingularSystemError{Size: dim}
		}
		estimate += w * sensors[nb.idx].CorrectedPM25
		covDot += w * rhs.AtVec(i)
	}
	if estimate < 0 {
		estimate = 0
	}

	krigVar := vg.Sill - covDot
	if krigVar < 0 {
		krigVar = 0
	}
	uncertainty := e.params.clampUncertainty(math.Hypot(math.Sqrt(krigVar), e.params.CalibrationSigma))

	return model.GridPoint{
		Latitude:    lat,
		Longitude:   lon,
		CHat:        estimate,
		Uncertainty: uncertainty,
		NEff:        m,
		Diagnostics: model.Diagnostics{
			Kriging: &model.KrigingDiagnostics{
				NeighborCount:   m,
				KrigingVariance: krigVar,
				LagrangeMu:      sol.AtVec(m),
			},
		},
	}, nil
}

// covarianceMatrix builds the global sensor covariance matrix implied by
// the variogram: cov(h) = sill - semivariance(h), with the full sill on
// the diagonal.
func covarianceMatrix(sensors []model.SensorReading, vg model.VariogramModel) *mat.SymDense {
	n := len(sensors)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, vg.Sill)
		for j := i + 1; j < n; j++ {
			h := geo.HaversineM(sensors[i].Latitude, sensors[i].Longitude, sensors[j].Latitude, sensors[j].Longitude)
			cov.SetSym(i, j, vg.Covariance(h))
		}
	}
	return cov
}

// regularizeToPD nudges the matrix to positive definiteness by adding
// escalating diagonal jitter until a Cholesky factorization succeeds. The
// jitter starts at a ppm-scale fraction of the mean diagonal, so a
// well-conditioned matrix is returned unchanged.
func regularizeToPD(cov *mat.SymDense) *mat.SymDense {
	n := cov.SymmetricDim()
	meanDiag := 0.0
	for i := 0; i < n; i++ {
		meanDiag += cov.At(i, i)
	}
	meanDiag /= float64(n)
	if meanDiag <= 0 {
		meanDiag = 1
	}

	var chol mat.Cholesky
	if chol.Factorize(cov) {
		return cov
	}

	jitter := meanDiag * 1e-6
	for attempt := 0; attempt < 12; attempt++ {
		adjusted := mat.NewSymDense(n, nil)
		adjusted.CopySym(cov)
		for i := 0; i < n; i++ {
			adjusted.SetSym(i, i, cov.At(i, i)+jitter)
		}
		if chol.Factorize(adjusted) {
			return adjusted
		}
		jitter *= 10
	}

	// Diagonal dominance as a last resort.
	adjusted := mat.NewSymDense(n, nil)
	adjusted.CopySym(cov)
	for i := 0; i < n; i++ {
		rowSum := 0.0
		for j := 0; j < n; j++ {
			if i != j {
				rowSum += math.Abs(cov.At(i, j))
			}
		}
		adjusted.SetSym(i, i, rowSum+meanDiag)
	}
	return adjusted
}
