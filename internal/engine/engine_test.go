package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/calibration"
	"github.com/plume-labs/plume/internal/gridcache"
	"github.com/plume-labs/plume/internal/interp"
	"github.com/plume-labs/plume/internal/model"
)

// singleCellSpec covers exactly one grid point at its southwest corner.
func singleCellSpec(method model.Method) model.GridSpec {
	return model.GridSpec{
		BBox:        model.BBox{West: -122.4200, South: 37.7700, East: -122.4196, North: 37.7704},
		ResolutionM: 100,
		Method:      method,
	}
}

func rawAt(id string, lat, lon, pm float64) model.RawReading {
	return model.RawReading{
		SensorID:  id,
		Latitude:  lat,
		Longitude: lon,
		RawPM25:   pm,
		Source:    "purpleair",
		Timestamp: time.Now().UTC(),
	}
}

// surroundingRaws places four sensors symmetrically around the single-cell
// spec's grid point so both estimators have enough neighbors.
func surroundingRaws(pm float64) []model.RawReading {
	return []model.RawReading{
		rawAt("s-n", 37.7710, -122.4200, pm),
		rawAt("s-s", 37.7690, -122.4200, pm),
		rawAt("s-e", 37.7700, -122.4190, pm),
		rawAt("s-w", 37.7700, -122.4210, pm),
	}
}

func testParams() interp.Params {
	return interp.Params{MinNeighbors: 3, SearchRadiusM: 5000}
}

func newTestEngine(cache *gridcache.Cache, covs interp.CovariateProvider) *Engine {
	corrector := calibration.NewCorrector(calibration.NewMemoryStore(), zap.NewNop())
	return New(corrector, cache, covs, testParams(), zap.NewNop())
}

func memoryCache(t *testing.T) *gridcache.Cache {
	t.Helper()
	return gridcache.New(gridcache.NewMemoryCache(16), nil, gridcache.DefaultTTLs(), zap.NewNop())
}

type fakeProvider struct {
	calls atomic.Int32
	field *model.CovariateField
	err   error
}

func (p *fakeProvider) FieldForBBox(_ context.Context, _ model.BBox, _ string) (*model.CovariateField, error) {
	p.calls.Add(1)
	return p.field, p.err
}

// failingDurable fails every operation, standing in for an unreachable
// durable tier.
type failingDurable struct{}

func (failingDurable) Get(context.Context, string) (*gridcache.Entry, error) {
	return nil, assert.AnError
}
func (failingDurable) Set(context.Context, gridcache.Entry) error { return assert.AnError }
func (failingDurable) InvalidateBBox(context.Context, model.BBox) (int, error) {
	return 0, assert.AnError
}
func (failingDurable) InvalidateOlderThan(context.Context, time.Duration) (int, error) {
	return 0, assert.AnError
}
func (failingDurable) InvalidateAll(context.Context) (int, error) { return 0, assert.AnError }
func (failingDurable) Stats(context.Context) (gridcache.StoreStats, error) {
	return gridcache.StoreStats{}, assert.AnError
}
func (failingDurable) Migrate(context.Context) error { return nil }
func (failingDurable) Close() error                  { return nil }

func TestGrid_RejectsInvalidMethod(t *testing.T) {
	e := newTestEngine(memoryCache(t), nil)
	spec := singleCellSpec("rbf")

	_, err := e.Grid(context.Background(), spec, surroundingRaws(10))
	require.Error(t, err)
	assert.True(t, model.IsInvalidRequest(err))
}

func TestGrid_RejectsUnsupportedResolution(t *testing.T) {
	e := newTestEngine(memoryCache(t), nil)
	spec := singleCellSpec(model.MethodIDW)
	spec.ResolutionM = 123

	_, err := e.Grid(context.Background(), spec, surroundingRaws(10))
	require.Error(t, err)
	assert.True(t, model.IsInvalidRequest(err))
}

func TestGrid_RejectsOversizedRequest(t *testing.T) {
	e := newTestEngine(memoryCache(t), nil)
	spec := model.GridSpec{
		BBox:        model.BBox{West: -124, South: 36, East: -120, North: 40},
		ResolutionM: 100,
		Method:      model.MethodIDW,
	}

	_, err := e.Grid(context.Background(), spec, nil)
	require.Error(t, err)
	assert.True(t, model.IsCapacityExceeded(err))
}

func TestGrid_ComputesAndCaches(t *testing.T) {
	e := newTestEngine(memoryCache(t), nil)
	spec := singleCellSpec(model.MethodIDW)

	grid, err := e.Grid(context.Background(), spec, surroundingRaws(15))
	require.NoError(t, err)
	require.Len(t, grid.Points, 1)
	assert.InDelta(t, 15, grid.Points[0].CHat, 1e-6)
	assert.False(t, grid.Metadata.Stats.CacheHit)

	// Same spec again is served from the fast tier, even with no readings.
	cached, err := e.Grid(context.Background(), spec, nil)
	require.NoError(t, err)
	require.Len(t, cached.Points, 1)
	assert.True(t, cached.Metadata.Stats.CacheHit)
	assert.InDelta(t, 15, cached.Points[0].CHat, 1e-6)
}

func TestGrid_RunsUncached(t *testing.T) {
	e := newTestEngine(nil, nil)
	spec := singleCellSpec(model.MethodIDW)

	grid, err := e.Grid(context.Background(), spec, surroundingRaws(12))
	require.NoError(t, err)
	require.Len(t, grid.Points, 1)
	assert.Nil(t, e.Cache())
}

func TestGrid_CacheWriteFailureDoesNotFailRequest(t *testing.T) {
	cache := gridcache.New(gridcache.NewMemoryCache(16), failingDurable{}, gridcache.DefaultTTLs(), zap.NewNop())
	e := newTestEngine(cache, nil)
	spec := singleCellSpec(model.MethodIDW)

	grid, err := e.Grid(context.Background(), spec, surroundingRaws(20))
	require.NoError(t, err)
	require.Len(t, grid.Points, 1)

	// The fast tier still took the write.
	cached, err := e.Grid(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.True(t, cached.Metadata.Stats.CacheHit)
}

func TestGrid_CovariateFailureDegradesToOrdinaryKriging(t *testing.T) {
	provider := &fakeProvider{err: &model.UpstreamError{Upstream: "satellite", Err: assert.AnError}}
	e := newTestEngine(memoryCache(t), provider)
	spec := singleCellSpec(model.MethodKriging)

	grid, err := e.Grid(context.Background(), spec, surroundingRaws(12))
	require.NoError(t, err)
	require.Len(t, grid.Points, 1)
	assert.InDelta(t, 12, grid.Points[0].CHat, 1e-3)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestGrid_CovariatesSkippedForIDW(t *testing.T) {
	provider := &fakeProvider{}
	e := newTestEngine(memoryCache(t), provider)
	spec := singleCellSpec(model.MethodIDW)

	_, err := e.Grid(context.Background(), spec, surroundingRaws(10))
	require.NoError(t, err)
	assert.Zero(t, provider.calls.Load())
}

func TestGrid_TimeBudgetFallsBackToIDW(t *testing.T) {
	e := newTestEngine(memoryCache(t), nil)
	e.TimeBudget = time.Nanosecond
	e.FallbackToIDW = true
	spec := singleCellSpec(model.MethodKriging)

	grid, err := e.Grid(context.Background(), spec, surroundingRaws(18))
	require.NoError(t, err)
	require.Len(t, grid.Points, 1)
	assert.Equal(t, model.MethodIDW, grid.Metadata.Method)
	assert.InDelta(t, 18, grid.Points[0].CHat, 1e-6)
}

func TestGrid_TimeBudgetWithoutFallbackFails(t *testing.T) {
	e := newTestEngine(memoryCache(t), nil)
	e.TimeBudget = time.Nanosecond
	spec := singleCellSpec(model.MethodKriging)

	_, err := e.Grid(context.Background(), spec, surroundingRaws(18))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCovariateDate(t *testing.T) {
	spec := singleCellSpec(model.MethodKriging)
	spec.Timestamp = time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-30", covariateDate(spec))

	spec.Timestamp = time.Time{}
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), covariateDate(spec))
}
