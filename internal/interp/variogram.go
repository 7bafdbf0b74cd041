package interp

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/plume-labs/plume/internal/geo"
	"github.com/plume-labs/plume/internal/model"
)

const (
	maxLagBins     = 20
	minPairsPerLag = 6 // a lag needs more than 5 supporting pairs
	minLagsForFit  = 3
)

// EmpiricalLag is one bin of the empirical semivariogram.
type EmpiricalLag struct {
	DistM float64 `json:"dist_m"`
	Gamma float64 `json:"gamma"`
	Pairs int     `json:"pairs"`
}

// FitVariogram builds and fits a theoretical semivariogram from detrended
// sensor residuals. When fewer than three usable lags exist, or the
// optimization cannot produce a finite model, it falls back to the
// documented default rather than failing: kriging quality degrades but the
// request survives.
func FitVariogram(sensors []model.SensorReading, covariates *model.CovariateField) model.VariogramModel {
	residuals := Detrend(sensors, covariates)
	lags := EmpiricalVariogram(sensors, residuals)
	if len(lags) < minLagsForFit {
		return model.DefaultVariogram()
	}
	fitted, ok := fitTheoretical(lags)
	if !ok {
		return model.DefaultVariogram()
	}
	return fitted
}

// Detrend removes the external-drift trend from corrected values and
// returns the residuals. With covariates the trend is an ordinary
// least-squares fit against the same design matrix kriging uses for its
// drift block; without them it is plain mean removal.
func Detrend(sensors []model.SensorReading, covariates *model.CovariateField) []float64 {
	n := len(sensors)
	residuals := make([]float64, n)
	if n == 0 {
		return residuals
	}

	values := make([]float64, n)
	for i, s := range sensors {
		values[i] = s.CorrectedPM25
	}

	design := driftDesign(sensors, covariates)
	cols := design.RawMatrix().Cols
	if cols > 1 && n > cols {
		var qr mat.QR
		qr.Factorize(design)
		var coef mat.VecDense
		if err := qr.SolveVecTo(&coef, false, mat.NewVecDense(n, values)); err == nil {
			for i := range residuals {
				fitted := 0.0
				for j := 0; j < cols; j++ {
					fitted += design.At(i, j) * coef.AtVec(j)
				}
				residuals[i] = values[i] - fitted
			}
			return residuals
		}
		// Rank-deficient design (colinear sensors): fall through to mean removal.
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	for i, v := range values {
		residuals[i] = v - mean
	}
	return residuals
}

// EmpiricalVariogram bins pairwise great-circle distances into at most
// maxLagBins lags over half the maximum separation, keeping only lags
// supported by enough pairs. Semivariance is mean squared residual
// difference over two.
func EmpiricalVariogram(sensors []model.SensorReading, residuals []float64) []EmpiricalLag {
	n := len(sensors)
	if n < 2 || len(residuals) != n {
		return nil
	}

	maxDist := 0.0
	type pair struct {
		dist  float64
		sqDif float64
	}
	pairs := make([]pair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := geo.HaversineM(sensors[i].Latitude, sensors[i].Longitude, sensors[j].Latitude, sensors[j].Longitude)
			if d > maxDist {
				maxDist = d
			}
			diff := residuals[i] - residuals[j]
			pairs = append(pairs, pair{dist: d, sqDif: diff * diff})
		}
	}
	if maxDist <= 0 {
		return nil
	}

	// Half the max separation keeps the long, pair-poor tail out of the fit.
	cutoff := maxDist / 2
	width := cutoff / float64(maxLagBins)
	if width <= 0 {
		return nil
	}

	sums := make([]float64, maxLagBins)
	counts := make([]int, maxLagBins)
	for _, p := range pairs {
		if p.dist > cutoff {
			continue
		}
		bin := int(p.dist / width)
		if bin >= maxLagBins {
			bin = maxLagBins - 1
		}
		sums[bin] += p.sqDif
		counts[bin]++
	}

	var lags []EmpiricalLag
	for b := 0; b < maxLagBins; b++ {
		if counts[b] < minPairsPerLag {
			continue
		}
		lags = append(lags, EmpiricalLag{
			DistM: (float64(b) + 0.5) * width,
			Gamma: sums[b] / float64(counts[b]) / 2,
			Pairs: counts[b],
		})
	}
	return lags
}

// fitTheoretical fits spherical, exponential and gaussian models to the
// empirical lags by pair-count-weighted least squares over a candidate
// parameter sweep, keeping the best-scoring model. The sweep enforces
// nugget >= 0, sill > nugget and range > 0 by construction.
func fitTheoretical(lags []EmpiricalLag) (model.VariogramModel, bool) {
	nuggetInit := math.Max(0, lags[0].Gamma)
	sillInit := 0.0
	tail := lags[(len(lags)*2)/3:]
	for _, l := range tail {
		sillInit += l.Gamma
	}
	sillInit /= float64(len(tail))
	if sillInit <= 0 {
		return model.VariogramModel{}, false
	}

	rangeInit := lags[len(lags)-1].DistM
	for _, l := range lags {
		if l.Gamma >= nuggetInit+0.95*(sillInit-nuggetInit) {
			rangeInit = l.DistM
			break
		}
	}

	kinds := []model.VariogramKind{model.VariogramSpherical, model.VariogramExponential, model.VariogramGaussian}
	nuggetScale := []float64{0, 0.25, 0.5, 1}
	sillScale := []float64{0.75, 1, 1.25, 1.5}
	rangeScale := []float64{0.5, 0.75, 1, 1.5, 2, 3}

	best := model.VariogramModel{}
	bestSSE := math.Inf(1)
	for _, kind := range kinds {
		for _, ns := range nuggetScale {
			for _, ss := range sillScale {
				for _, rs := range rangeScale {
					cand := model.VariogramModel{
						Kind:   kind,
						Nugget: nuggetInit * ns,
						Sill:   sillInit * ss,
						RangeM: rangeInit * rs,
					}
					if cand.Sill <= cand.Nugget || cand.RangeM <= 0 {
						continue
					}
					sse := weightedSSE(cand, lags)
					if sse < bestSSE {
						bestSSE = sse
						best = cand
					}
				}
			}
		}
	}
	if math.IsInf(bestSSE, 1) || !isFiniteModel(best) {
		return model.VariogramModel{}, false
	}

	best.FitScore = fitScore(bestSSE, lags)
	return best, true
}

func weightedSSE(v model.VariogramModel, lags []EmpiricalLag) float64 {
	sse := 0.0
	for _, l := range lags {
		diff := v.Semivariance(l.DistM) - l.Gamma
		sse += float64(l.Pairs) * diff * diff
	}
	return sse
}

// fitScore is a pair-count-weighted R^2 clamped to [0, 1].
func fitScore(sse float64, lags []EmpiricalLag) float64 {
	var mean, wsum float64
	for _, l := range lags {
		mean += float64(l.Pairs) * l.Gamma
		wsum += float64(l.Pairs)
	}
	mean /= wsum

	var sstot float64
	for _, l := range lags {
		d := l.Gamma - mean
		sstot += float64(l.Pairs) * d * d
	}
	if sstot <= 0 {
		return 0
	}
	score := 1 - sse/sstot
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func isFiniteModel(v model.VariogramModel) bool {
	return !math.IsNaN(v.Nugget) && !math.IsInf(v.Nugget, 0) &&
		!math.IsNaN(v.Sill) && !math.IsInf(v.Sill, 0) &&
		!math.IsNaN(v.RangeM) && !math.IsInf(v.RangeM, 0)
}
