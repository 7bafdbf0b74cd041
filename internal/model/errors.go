package model

import (
	"errors"
	"fmt"
)

// The estimation error taxonomy. Per-point conditions (InsufficientData,
// NumericalSingularity) are recovered by omitting the affected point and
// never abort a whole grid. Per-request conditions (InvalidRequest,
// CapacityExceeded) are surfaced immediately with enough context to retry
// correctly. UpstreamUnavailable is recovered by degrading, not failing.

// InsufficientDataError reports fewer than min_neighbors sensors in range
// of a grid point.
type InsufficientDataError struct {
	Needed int
	Found  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need %d sensors in range, found %d", e.Needed, e.Found)
}

// InvalidRequestError reports a malformed request (bad bbox, unknown
// method, unsupported resolution). Never silently coerced.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// SingularSystemError reports a numerically unsolvable local kriging
// system. Callers treat it as InsufficientData for that point.
type SingularSystemError struct {
	Size int
}

func (e *SingularSystemError) Error() string {
	return fmt.Sprintf("singular kriging system (%dx%d)", e.Size, e.Size)
}

// UpstreamError reports an unreachable collaborator (calibration store,
// covariate provider). Estimation degrades instead of failing.
type UpstreamError struct {
	Upstream string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Upstream, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// CapacityError rejects a request whose bbox/resolution combination exceeds
// its tier's admission limits. Suggested always names a coarser resolution
// that passes validation for the same bbox, or 0 when none exists.
type CapacityError struct {
	ResolutionM     int
	AreaDeg2        float64
	MaxAreaDeg2     float64
	EstimatedPoints int
	MaxPoints       int
	SuggestedM      int
}

func (e *CapacityError) Error() string {
	if e.SuggestedM > 0 {
		return fmt.Sprintf(
			"capacity exceeded: resolution %dm over %.4f deg^2 (~%d points, tier limits %.4f deg^2 / %d points); try resolution %dm",
			e.ResolutionM, e.AreaDeg2, e.EstimatedPoints, e.MaxAreaDeg2, e.MaxPoints, e.SuggestedM)
	}
	return fmt.Sprintf(
		"capacity exceeded: resolution %dm over %.4f deg^2 (~%d points) exceeds every tier",
		e.ResolutionM, e.AreaDeg2, e.EstimatedPoints)
}

// IsInsufficientData reports whether any error in the chain is an
// InsufficientDataError or SingularSystemError (which degrades to it).
func IsInsufficientData(err error) bool {
	var ie *InsufficientDataError
	if errors.As(err, &ie) {
		return true
	}
	var se *SingularSystemError
	return errors.As(err, &se)
}

// IsInvalidRequest reports whether the chain contains an InvalidRequestError.
func IsInvalidRequest(err error) bool {
	var e *InvalidRequestError
	return errors.As(err, &e)
}

// IsCapacityExceeded reports whether the chain contains a CapacityError.
func IsCapacityExceeded(err error) bool {
	var e *CapacityError
	return errors.As(err, &e)
}

// IsUpstreamUnavailable reports whether the chain contains an UpstreamError.
func IsUpstreamUnavailable(err error) bool {
	var e *UpstreamError
	return errors.As(err, &e)
}
