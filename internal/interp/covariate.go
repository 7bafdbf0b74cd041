package interp

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/plume-labs/plume/internal/geo"
	"github.com/plume-labs/plume/internal/model"
)

// driftBasis evaluates the external-drift design shared by the variogram
// detrend step and the kriging drift block: a constant, the centered
// spatial trend, and optionally one normalized covariate. Centering and
// normalization are computed once from the request's sensors and field so
// that sensor rows and prediction points use identical scaling.
type driftBasis struct {
	meanLat float64
	meanLon float64

	field   *model.CovariateField
	covMean float64
	covStd  float64
	useCov  bool
}

func newDriftBasis(sensors []model.SensorReading, covariates *model.CovariateField) driftBasis {
	b := driftBasis{}
	if len(sensors) > 0 {
		for _, s := range sensors {
			b.meanLat += s.Latitude
			b.meanLon += s.Longitude
		}
		b.meanLat /= float64(len(sensors))
		b.meanLon /= float64(len(sensors))
	}

	if covariates == nil || len(covariates.Samples) == 0 {
		return b
	}

	var mean, m2 float64
	for i, s := range covariates.Samples {
		delta := s.Value - mean
		mean += delta / float64(i+1)
		m2 += delta * (s.Value - mean)
	}
	std := math.Sqrt(m2 / float64(len(covariates.Samples)))
	if std <= 0 || math.IsNaN(std) {
		// A constant field carries no drift information.
		return b
	}
	b.field = covariates
	b.covMean = mean
	b.covStd = std
	b.useCov = true
	return b
}

// size returns the number of drift terms.
func (b driftBasis) size() int {
	if b.useCov {
		return 4
	}
	return 3
}

// vector evaluates the drift terms at a location.
func (b driftBasis) vector(lat, lon float64) []float64 {
	v := []float64{1, lat - b.meanLat, lon - b.meanLon}
	if b.useCov {
		v = append(v, (b.fieldValue(lat, lon)-b.covMean)/b.covStd)
	}
	return v
}

// fieldValue samples the covariate field by nearest grid cell.
func (b driftBasis) fieldValue(lat, lon float64) float64 {
	bestDist := math.Inf(1)
	bestVal := b.covMean
	for _, s := range b.field.Samples {
		d := geo.HaversineM(lat, lon, s.Latitude, s.Longitude)
		if d < bestDist {
			bestDist = d
			bestVal = s.Value
		}
	}
	return bestVal
}

// driftDesign assembles the n x p design matrix over the sensor locations.
func driftDesign(sensors []model.SensorReading, covariates *model.CovariateField) *mat.Dense {
	b := newDriftBasis(sensors, covariates)
	n := len(sensors)
	if n == 0 {
		return mat.NewDense(1, b.size(), nil)
	}
	design := mat.NewDense(n, b.size(), nil)
	for i, s := range sensors {
		design.SetRow(i, b.vector(s.Latitude, s.Longitude))
	}
	return design
}
