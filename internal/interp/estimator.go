// Package interp implements the two spatial estimators that turn calibrated
// sensor readings into gridded concentration surfaces: inverse-distance
// weighting and universal kriging with external drift. Both estimators are
// request-scoped and side-effect free; per-point failures omit the point
// and never abort the grid.
package interp

import (
	"context"
	"sort"

	"github.com/plume-labs/plume/internal/geo"
	"github.com/plume-labs/plume/internal/model"
)

// Params carries the tuning knobs shared by both estimators. Zero values
// are replaced by the defaults below.
type Params struct {
	MinNeighbors  int     // fewer sensors in range than this omits the cell
	SearchRadiusM float64 // neighbor selection radius
	Power         float64 // IDW distance exponent
	MaxNeighbors  int     // kriging local system cap, nearest-first

	// CalibrationSigma is the fixed calibration term folded into kriging
	// uncertainty, in ug/m^3.
	CalibrationSigma float64

	UncertaintyFloor   float64
	UncertaintyCeiling float64

	MaxCells int // grid auto-coarsens above this cell count
	Workers  int // bounded pool width for per-row estimation
}

// Defaults for any Params field left at zero.
const (
	DefaultMinNeighbors     = 3
	DefaultSearchRadiusM    = 10000.0
	DefaultPower            = 2.0
	DefaultMaxNeighbors     = 16
	DefaultCalibrationSigma = 5.0
	DefaultUncertaintyFloor = 0.1
	DefaultUncertaintyCeil  = 50.0
	DefaultMaxCells         = 40000
	DefaultWorkers          = 4

	// minDistanceM floors sensor-to-cell distances to avoid weight
	// singularities when a sensor sits on a grid point.
	minDistanceM = 1.0
)

func (p Params) withDefaults() Params {
	if p.MinNeighbors <= 0 {
		p.MinNeighbors = DefaultMinNeighbors
	}
	if p.SearchRadiusM <= 0 {
		p.SearchRadiusM = DefaultSearchRadiusM
	}
	if p.Power <= 0 {
		p.Power = DefaultPower
	}
	if p.MaxNeighbors <= 0 {
		p.MaxNeighbors = DefaultMaxNeighbors
	}
	if p.CalibrationSigma <= 0 {
		p.CalibrationSigma = DefaultCalibrationSigma
	}
	if p.UncertaintyFloor <= 0 {
		p.UncertaintyFloor = DefaultUncertaintyFloor
	}
	if p.UncertaintyCeiling <= 0 {
		p.UncertaintyCeiling = DefaultUncertaintyCeil
	}
	if p.MaxCells <= 0 {
		p.MaxCells = DefaultMaxCells
	}
	if p.Workers <= 0 {
		p.Workers = DefaultWorkers
	}
	return p
}

// clampUncertainty bounds an uncertainty into [floor, ceiling].
func (p Params) clampUncertainty(u float64) float64 {
	if u < p.UncertaintyFloor {
		return p.UncertaintyFloor
	}
	if u > p.UncertaintyCeiling {
		return p.UncertaintyCeiling
	}
	return u
}

// CovariateProvider supplies a gridded external-drift field for a bbox and
// date. Implementations returning (nil, nil) or an error degrade estimation
// to the covariate-free form.
type CovariateProvider interface {
	FieldForBBox(ctx context.Context, bbox model.BBox, date string) (*model.CovariateField, error)
}

// Estimator is the shared contract of the closed estimator set: exactly the
// IDW and Kriging implementations exist, constructed via New.
type Estimator interface {
	Method() model.Method
	Estimate(ctx context.Context, sensors []model.SensorReading, spec model.GridSpec, covariates *model.CovariateField) (*model.Grid, error)
}

// New constructs the estimator for a method. Unknown methods are an
// InvalidRequestError, never a silent default.
func New(method model.Method, params Params) (Estimator, error) {
	if err := method.Validate(); err != nil {
		return nil, err
	}
	params = params.withDefaults()
	switch method {
	case model.MethodKriging:
		return &Kriging{params: params}, nil
	default:
		return &IDW{params: params}, nil
	}
}

// neighbor pairs a sensor index with its distance from a grid location.
type neighbor struct {
	idx   int
	distM float64
}

// neighborsWithin returns sensors within radiusM of (lat, lon) sorted
// nearest-first, with distances floored at minDistanceM.
func neighborsWithin(sensors []model.SensorReading, lat, lon, radiusM float64) []neighbor {
	var out []neighbor
	for i, s := range sensors {
		d := geo.HaversineM(lat, lon, s.Latitude, s.Longitude)
		if d > radiusM {
			continue
		}
		if d < minDistanceM {
			d = minDistanceM
		}
		out = append(out, neighbor{idx: i, distM: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].distM < out[j].distM })
	return out
}
