package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Method selects the spatial estimator. The set is closed: exactly IDW and
// kriging exist, and anything else fails validation up front.
type Method string

const (
	MethodIDW     Method = "idw"
	MethodKriging Method = "kriging"
)

// Validate returns an InvalidRequestError for any method outside the closed set.
func (m Method) Validate() error {
	switch m {
	case MethodIDW, MethodKriging:
		return nil
	default:
		return &InvalidRequestError{Reason: eris.Errorf("unknown method %q", string(m)).Error()}
	}
}

// BBox is a geographic bounding box in WGS84 degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Validate checks the bbox invariants (west<east, south<north, coordinates
// within world bounds).
func (b BBox) Validate() error {
	if b.West >= b.East {
		return &InvalidRequestError{Reason: "bbox west must be less than east"}
	}
	if b.South >= b.North {
		return &InvalidRequestError{Reason: "bbox south must be less than north"}
	}
	if b.West < -180 || b.East > 180 || b.South < -90 || b.North > 90 {
		return &InvalidRequestError{Reason: "bbox outside world bounds"}
	}
	return nil
}

// AreaDeg2 returns the bbox area in square degrees.
func (b BBox) AreaDeg2() float64 {
	return (b.East - b.West) * (b.North - b.South)
}

// Contains reports whether the point lies inside the bbox (inclusive).
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// Intersects reports whether two bboxes overlap.
func (b BBox) Intersects(o BBox) bool {
	return b.West <= o.East && o.West <= b.East && b.South <= o.North && o.South <= b.North
}

// GridSpec fully identifies one grid computation.
type GridSpec struct {
	BBox        BBox      `json:"bbox"`
	ResolutionM int       `json:"resolution_m"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Method      Method    `json:"method"`
}

// IDWDiagnostics carries IDW-specific per-point detail.
type IDWDiagnostics struct {
	NeighborCount int     `json:"neighbor_count"`
	MeanDistanceM float64 `json:"mean_distance_m"`
	WeightSum     float64 `json:"weight_sum"`
}

// KrigingDiagnostics carries kriging-specific per-point detail.
type KrigingDiagnostics struct {
	NeighborCount   int     `json:"neighbor_count"`
	KrigingVariance float64 `json:"kriging_variance"`
	LagrangeMu      float64 `json:"lagrange_mu"`
}

// Diagnostics is a tagged variant: exactly one of the fields is set,
// matching the method that produced the point.
type Diagnostics struct {
	IDW     *IDWDiagnostics     `json:"idw,omitempty"`
	Kriging *KrigingDiagnostics `json:"kriging,omitempty"`
}

// GridPoint is one estimated cell of a concentration surface.
type GridPoint struct {
	Latitude    float64     `json:"lat"`
	Longitude   float64     `json:"lon"`
	CHat        float64     `json:"c_hat"`
	Uncertainty float64     `json:"uncertainty"`
	NEff        int         `json:"n_eff"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// ProcessingStats summarizes one grid computation for API metadata.
type ProcessingStats struct {
	PointsRequested int   `json:"points_requested"`
	PointsEstimated int   `json:"points_estimated"`
	PointsOmitted   int   `json:"points_omitted"`
	ElapsedMS       int64 `json:"elapsed_ms"`
	CacheHit        bool  `json:"cache_hit"`
}

// GridMetadata accompanies every grid response.
type GridMetadata struct {
	Method      Method            `json:"method"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	BBox        BBox              `json:"bbox"`
	ResolutionM int               `json:"resolution_m"`
	SensorsUsed int               `json:"sensors_used"`
	Variogram   *VariogramModel   `json:"variogram,omitempty"`
	Stats       ProcessingStats   `json:"processing_stats"`
}

// Grid is the complete result of one interpolation request: a sparse set of
// estimated points plus metadata. Cells that could not be estimated are
// simply absent.
type Grid struct {
	Points   []GridPoint  `json:"points"`
	Metadata GridMetadata `json:"metadata"`
}

// CovariateSample is one cell of an external-drift covariate field.
type CovariateSample struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Value     float64 `json:"value"`
}

// CovariateField is a gridded auxiliary field (e.g. satellite-derived
// temperature) used as an external-drift predictor. A nil or empty field
// degrades estimation to the covariate-free form.
type CovariateField struct {
	Samples []CovariateSample `json:"samples"`
}
