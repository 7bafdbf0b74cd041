package model

import "math"

// VariogramKind names a theoretical semivariogram shape.
type VariogramKind string

const (
	VariogramSpherical   VariogramKind = "spherical"
	VariogramExponential VariogramKind = "exponential"
	VariogramGaussian    VariogramKind = "gaussian"
)

// VariogramModel is a fitted theoretical semivariogram. RangeM is in meters.
// Fallback marks the documented default used when too few empirical lags
// exist or optimization fails.
type VariogramModel struct {
	Kind     VariogramKind `json:"model_name"`
	Nugget   float64       `json:"nugget"`
	Sill     float64       `json:"sill"`
	RangeM   float64       `json:"range_m"`
	FitScore float64       `json:"fit_score"`
	Fallback bool          `json:"fallback,omitempty"`
}

// Semivariance evaluates the model at separation distance h meters.
func (v VariogramModel) Semivariance(h float64) float64 {
	if h <= 0 {
		return 0
	}
	partial := v.Sill - v.Nugget
	switch v.Kind {
	case VariogramExponential:
		return v.Nugget + partial*(1-math.Exp(-3*h/v.RangeM))
	case VariogramGaussian:
		r := h / v.RangeM
		return v.Nugget + partial*(1-math.Exp(-3*r*r))
	default: // spherical
		if h >= v.RangeM {
			return v.Sill
		}
		r := h / v.RangeM
		return v.Nugget + partial*(1.5*r-0.5*r*r*r)
	}
}

// Covariance returns sill minus semivariance, the stationary covariance at
// distance h implied by the model. Never negative.
func (v VariogramModel) Covariance(h float64) float64 {
	c := v.Sill - v.Semivariance(h)
	if c < 0 {
		return 0
	}
	return c
}

// DefaultVariogram is the documented last-resort model used when a fit is
// impossible. The parameters are intentionally the historical defaults;
// they are unitless relative to the PM2.5 scale and flagged as Fallback so
// callers can surface the degradation.
func DefaultVariogram() VariogramModel {
	return VariogramModel{
		Kind:     VariogramSpherical,
		Nugget:   0.1,
		Sill:     1.0,
		RangeM:   5000,
		Fallback: true,
	}
}
