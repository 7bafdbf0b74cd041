// Package engine orchestrates one grid request end to end: admission
// control, cache lookup, calibration, covariate retrieval, estimation and
// cache write-back. All collaborators are injected; the engine holds no
// global state.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/calibration"
	"github.com/plume-labs/plume/internal/gridcache"
	"github.com/plume-labs/plume/internal/interp"
	"github.com/plume-labs/plume/internal/model"
)

// Engine computes grids with caching and graceful degradation.
type Engine struct {
	corrector  *calibration.Corrector
	cache      *gridcache.Cache
	covariates interp.CovariateProvider // may be nil
	params     interp.Params
	logger     *zap.Logger

	// TimeBudget bounds a single estimation. Zero means unbounded. A
	// kriging run that exceeds the budget is retried as IDW when
	// FallbackToIDW is set, since a cheaper answer beats no answer.
	TimeBudget    time.Duration
	FallbackToIDW bool
}

// New assembles an engine. covariates may be nil; the cache may be a
// memory-only one.
func New(corrector *calibration.Corrector, cache *gridcache.Cache, covariates interp.CovariateProvider, params interp.Params, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.L()
	}
	return &Engine{
		corrector:  corrector,
		cache:      cache,
		covariates: covariates,
		params:     params,
		logger:     logger,
	}
}

// Grid returns the grid for a spec, serving from cache when possible.
// Admission control runs before any work; a cache miss computes, stores
// and returns a fresh grid. The returned grid is always either a valid
// (possibly sparse) result or a typed error, never fabricated data.
func (e *Engine) Grid(ctx context.Context, spec model.GridSpec, raws []model.RawReading) (*model.Grid, error) {
	if err := spec.Method.Validate(); err != nil {
		return nil, err
	}
	if err := gridcache.ValidateResolution(spec.BBox, spec.ResolutionM); err != nil {
		return nil, err
	}

	if e.cache != nil {
		if grid, ok := e.cache.Get(ctx, spec); ok {
			return grid, nil
		}
	}

	grid, err := e.compute(ctx, spec, raws)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, spec, grid); err != nil {
			// A failed cache write must not fail a successful computation.
			e.logger.Warn("cache write failed", zap.Error(err))
		}
	}
	return grid, nil
}

func (e *Engine) compute(ctx context.Context, spec model.GridSpec, raws []model.RawReading) (*model.Grid, error) {
	sensors := e.corrector.CorrectAll(ctx, raws)

	var covs *model.CovariateField
	if spec.Method == model.MethodKriging && e.covariates != nil {
		field, err := e.covariates.FieldForBBox(ctx, spec.BBox, covariateDate(spec))
		if err != nil {
			// Covariates are an enhancement: degrade to ordinary kriging.
			e.logger.Warn("covariate provider unavailable, degrading to ordinary kriging", zap.Error(err))
		} else {
			covs = field
		}
	}

	estimator, err := interp.New(spec.Method, e.params)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	cancel := func() {}
	if e.TimeBudget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.TimeBudget)
	}
	grid, err := estimator.Estimate(runCtx, sensors, spec, covs)
	cancel()

	if err != nil && spec.Method == model.MethodKriging && e.FallbackToIDW &&
		errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		e.logger.Warn("kriging exceeded time budget, falling back to IDW",
			zap.Duration("budget", e.TimeBudget))
		fallbackSpec := spec
		fallbackSpec.Method = model.MethodIDW
		idw, ierr := interp.New(model.MethodIDW, e.params)
		if ierr != nil {
			return nil, ierr
		}
		return idw.Estimate(ctx, sensors, fallbackSpec, nil)
	}
	return grid, err
}

// Cache exposes the engine's cache for admin operations; nil when the
// engine runs uncached.
func (e *Engine) Cache() *gridcache.Cache { return e.cache }

// covariateDate keys the covariate field request to the grid's day.
func covariateDate(spec model.GridSpec) string {
	ts := spec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ts.UTC().Format("2006-01-02")
}
