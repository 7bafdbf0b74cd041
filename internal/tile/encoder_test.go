package tile

import (
	"testing"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-labs/plume/internal/model"
)

// The z/x/y used throughout covers roughly lon [-122.43, -122.34],
// lat [37.72, 37.78].
const (
	testZ = 12
	testX = 655
	testY = 1583
)

func decodeLayers(t *testing.T, data []byte) map[string]*mvt.Layer {
	t.Helper()
	layers, err := mvt.Unmarshal(data)
	require.NoError(t, err)
	out := make(map[string]*mvt.Layer, len(layers))
	for _, l := range layers {
		out[l.Name] = l
	}
	return out
}

func insideGrid() *model.Grid {
	return &model.Grid{
		Points: []model.GridPoint{
			{Latitude: 37.750, Longitude: -122.400, CHat: 8.0, Uncertainty: 3.0, NEff: 5},
			{Latitude: 37.752, Longitude: -122.398, CHat: 18.0, Uncertainty: 15.0, NEff: 4},
			{Latitude: 37.754, Longitude: -122.402, CHat: 22.0, Uncertainty: 4.0, NEff: 6},
			{Latitude: 37.756, Longitude: -122.396, CHat: 40.0, Uncertainty: 5.0, NEff: 6},
		},
		Metadata: model.GridMetadata{Method: model.MethodIDW, ResolutionM: 250},
	}
}

func TestEncode_AllLayers(t *testing.T) {
	data, err := Encode(insideGrid(), testZ, testX, testY, AllLayers, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	layers := decodeLayers(t, data)
	require.Contains(t, layers, "points")
	require.Contains(t, layers, "uncertainty")
	require.Contains(t, layers, "contours")

	points := layers["points"]
	require.Len(t, points.Features, 4)
	props := points.Features[0].Properties
	assert.Contains(t, props, "c_hat")
	assert.Contains(t, props, "uncertainty")
	assert.Contains(t, props, "color")
	assert.Contains(t, props, "opacity")
}

func TestEncode_EmptyGridIsEmptyTileNotError(t *testing.T) {
	data, err := Encode(nil, testZ, testX, testY, AllLayers, Options{})
	require.NoError(t, err)

	layers, err := mvt.Unmarshal(data)
	require.NoError(t, err)
	for _, l := range layers {
		assert.Empty(t, l.Features)
	}

	empty := &model.Grid{Metadata: model.GridMetadata{Method: model.MethodIDW}}
	_, err = Encode(empty, testZ, testX, testY, AllLayers, Options{})
	require.NoError(t, err)
}

func TestEncode_FiltersPointsOutsideTile(t *testing.T) {
	grid := insideGrid()
	// Points in another city never reach the layers.
	grid.Points = append(grid.Points, model.GridPoint{Latitude: 34.05, Longitude: -118.25, CHat: 99, Uncertainty: 2})

	data, err := Encode(grid, testZ, testX, testY, []LayerType{LayerPoints}, Options{})
	require.NoError(t, err)

	layers := decodeLayers(t, data)
	require.Contains(t, layers, "points")
	assert.Len(t, layers["points"].Features, 4)
}

func TestEncode_UncertaintyLayerThreshold(t *testing.T) {
	data, err := Encode(insideGrid(), testZ, testX, testY, []LayerType{LayerUncertainty}, Options{})
	require.NoError(t, err)

	layers := decodeLayers(t, data)
	require.Contains(t, layers, "uncertainty")
	// Only the one point at uncertainty 15 crosses the default threshold of 10.
	assert.Len(t, layers["uncertainty"].Features, 1)
}

func TestEncode_ContoursAreClosedPolygons(t *testing.T) {
	data, err := Encode(insideGrid(), testZ, testX, testY, []LayerType{LayerContours}, Options{})
	require.NoError(t, err)

	layers := decodeLayers(t, data)
	require.Contains(t, layers, "contours")
	// Three points at or above 15 support the 15 level hull; higher levels
	// lack three qualifying points.
	require.Len(t, layers["contours"].Features, 1)
	assert.Equal(t, 15.0, layers["contours"].Features[0].Properties["level"])
}

func TestEncode_UnknownLayerRejected(t *testing.T) {
	_, err := Encode(insideGrid(), testZ, testX, testY, []LayerType{LayerType("heat")}, Options{})
	require.Error(t, err)
	assert.True(t, model.IsInvalidRequest(err))
}

func TestConcentrationColor_AQIBands(t *testing.T) {
	tests := []struct {
		c    float64
		want string
	}{
		{5, "#00e400"},
		{12, "#00e400"},
		{20, "#ffff00"},
		{40, "#ff7e00"},
		{100, "#ff0000"},
		{200, "#8f3f97"},
		{300, "#7e0023"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, concentrationColor(tt.c), "c=%v", tt.c)
	}
}

func TestConcentrationOpacity_Capped(t *testing.T) {
	assert.InDelta(t, 0.40, concentrationOpacity(5), 1e-9)
	assert.InDelta(t, 0.9, concentrationOpacity(60), 1e-9)
	assert.InDelta(t, 0.9, concentrationOpacity(500), 1e-9)
}

func TestRound2_HalfAwayFromZero(t *testing.T) {
	tests := []struct {
		v    float64
		want float64
	}{
		{4.567, 4.57},
		{4.564, 4.56},
		{-4.567, -4.57},
		{-4.564, -4.56},
		{-12.5, -12.5},
		{0, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, round2(tt.v), 1e-9, "v=%v", tt.v)
	}
}
