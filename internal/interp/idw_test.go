package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-labs/plume/internal/model"
)

// singleCellSpec yields a grid with exactly one point at (0, 0).
func singleCellSpec(method model.Method) model.GridSpec {
	return model.GridSpec{
		BBox:        model.BBox{West: 0, South: 0, East: 0.0004, North: 0.0004},
		ResolutionM: 100,
		Method:      method,
	}
}

func sensor(id string, lat, lon, value, sigma float64) model.SensorReading {
	return model.SensorReading{
		SensorID:      id,
		Latitude:      lat,
		Longitude:     lon,
		CorrectedPM25: value,
		SigmaI:        sigma,
	}
}

func TestNew_ClosedEstimatorSet(t *testing.T) {
	idw, err := New(model.MethodIDW, Params{})
	require.NoError(t, err)
	assert.Equal(t, model.MethodIDW, idw.Method())

	krig, err := New(model.MethodKriging, Params{})
	require.NoError(t, err)
	assert.Equal(t, model.MethodKriging, krig.Method())

	_, err = New(model.Method("rbf"), Params{})
	require.Error(t, err)
	assert.True(t, model.IsInvalidRequest(err))
}

func TestIDW_SymmetricSensorsAverage(t *testing.T) {
	est, err := New(model.MethodIDW, Params{MinNeighbors: 2})
	require.NoError(t, err)

	sensors := []model.SensorReading{
		sensor("a", 0, 0.001, 10, 3),
		sensor("b", 0, -0.001, 20, 3),
	}

	grid, err := est.Estimate(context.Background(), sensors, singleCellSpec(model.MethodIDW), nil)
	require.NoError(t, err)
	require.Len(t, grid.Points, 1)

	// Equal distance, equal sigma: the estimate is the plain mean.
	assert.InDelta(t, 15.0, grid.Points[0].CHat, 1e-6)
	assert.Equal(t, 2, grid.Points[0].NEff)
	require.NotNil(t, grid.Points[0].Diagnostics.IDW)
	assert.Nil(t, grid.Points[0].Diagnostics.Kriging)
}

func TestIDW_OutlierDampedByCluster(t *testing.T) {
	est, err := New(model.MethodIDW, Params{})
	require.NoError(t, err)

	// Four agreeing sensors near the cell, one distant outlier at 40.
	sensors := []model.SensorReading{
		sensor("c1", 0.0005, 0.0005, 10, 5),
		sensor("c2", -0.0005, 0.0005, 12, 5),
		sensor("c3", 0.0005, -0.0005, 11, 5),
		sensor("c4", -0.0005, -0.0005, 9, 5),
		sensor("far", 0.045, 0, 40, 5),
	}

	grid, err := est.Estimate(context.Background(), sensors, singleCellSpec(model.MethodIDW), nil)
	require.NoError(t, err)
	require.Len(t, grid.Points, 1)

	p := grid.Points[0]
	assert.Greater(t, p.CHat, 9.0)
	assert.Less(t, p.CHat, 12.0)
	assert.Equal(t, 5, p.NEff)
}

func TestIDW_InverseVarianceWeighting(t *testing.T) {
	est, err := New(model.MethodIDW, Params{MinNeighbors: 2})
	require.NoError(t, err)

	// Same geometry as the symmetric test, but the noisy sensor counts less.
	sensors := []model.SensorReading{
		sensor("precise", 0, 0.001, 10, 2),
		sensor("noisy", 0, -0.001, 20, 10),
	}

	grid, err := est.Estimate(context.Background(), sensors, singleCellSpec(model.MethodIDW), nil)
	require.NoError(t, err)
	require.Len(t, grid.Points, 1)
	assert.Less(t, grid.Points[0].CHat, 12.0)
}

func TestIDW_InsufficientNeighborsOmitsCell(t *testing.T) {
	est, err := New(model.MethodIDW, Params{})
	require.NoError(t, err)

	// Two sensors in range; the default MinNeighbors is three.
	sensors := []model.SensorReading{
		sensor("a", 0, 0.001, 10, 3),
		sensor("b", 0, -0.001, 20, 3),
	}

	grid, err := est.Estimate(context.Background(), sensors, singleCellSpec(model.MethodIDW), nil)
	require.NoError(t, err)
	assert.Empty(t, grid.Points)
	assert.Equal(t, grid.Metadata.Stats.PointsRequested, grid.Metadata.Stats.PointsOmitted)
}

func TestIDW_NoSensorsYieldsEmptyGrid(t *testing.T) {
	est, err := New(model.MethodIDW, Params{})
	require.NoError(t, err)

	grid, err := est.Estimate(context.Background(), nil, singleCellSpec(model.MethodIDW), nil)
	require.NoError(t, err)
	assert.Empty(t, grid.Points)
	assert.Equal(t, 0, grid.Metadata.SensorsUsed)
}

func TestIDW_Invariants(t *testing.T) {
	est, err := New(model.MethodIDW, Params{})
	require.NoError(t, err)

	sensors := []model.SensorReading{
		sensor("s1", 37.7740, -122.4200, 8.2, 3),
		sensor("s2", 37.7760, -122.4180, 15.1, 5),
		sensor("s3", 37.7755, -122.4220, 11.7, 4),
		sensor("s4", 37.7735, -122.4170, 22.4, 8),
		sensor("s5", 37.7770, -122.4210, 5.0, 2),
	}
	spec := model.GridSpec{
		BBox:        model.BBox{West: -122.4230, South: 37.7730, East: -122.4160, North: 37.7780},
		ResolutionM: 100,
		Method:      model.MethodIDW,
	}

	grid, err := est.Estimate(context.Background(), sensors, spec, nil)
	require.NoError(t, err)
	require.NotEmpty(t, grid.Points)

	for _, p := range grid.Points {
		assert.GreaterOrEqual(t, p.CHat, 0.0)
		assert.GreaterOrEqual(t, p.Uncertainty, DefaultUncertaintyFloor)
		assert.LessOrEqual(t, p.Uncertainty, DefaultUncertaintyCeil)
		assert.GreaterOrEqual(t, p.NEff, DefaultMinNeighbors)
		assert.True(t, spec.BBox.Contains(p.Latitude, p.Longitude))
	}

	stats := grid.Metadata.Stats
	assert.Equal(t, stats.PointsRequested, stats.PointsEstimated+stats.PointsOmitted)
	assert.Equal(t, "2", grid.Metadata.Parameters["power"])
	assert.Equal(t, 5, grid.Metadata.SensorsUsed)
}

func TestIDW_InvalidBBoxRejected(t *testing.T) {
	est, err := New(model.MethodIDW, Params{})
	require.NoError(t, err)

	spec := model.GridSpec{
		BBox:        model.BBox{West: 1, South: 0, East: 0, North: 1},
		ResolutionM: 100,
	}
	_, err = est.Estimate(context.Background(), nil, spec, nil)
	require.Error(t, err)
	assert.True(t, model.IsInvalidRequest(err))
}

func TestNeighborsWithin_SortedAndFloored(t *testing.T) {
	sensors := []model.SensorReading{
		sensor("far", 0.01, 0, 1, 1),
		sensor("near", 0.001, 0, 1, 1),
		sensor("colocated", 0, 0, 1, 1),
		sensor("outside", 1.0, 0, 1, 1),
	}

	nbrs := neighborsWithin(sensors, 0, 0, 10000)
	require.Len(t, nbrs, 3)
	assert.Equal(t, 2, nbrs[0].idx)
	assert.Equal(t, minDistanceM, nbrs[0].distM)
	assert.Equal(t, 1, nbrs[1].idx)
	assert.Equal(t, 0, nbrs[2].idx)
}
