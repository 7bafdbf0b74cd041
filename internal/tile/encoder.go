// Package tile encodes estimator output into Mapbox vector tiles for map
// clients. A tile has up to three layers: styled concentration points,
// high-uncertainty polygons, and threshold contours. Contours are convex
// hulls of qualifying points, a deliberate approximation of true isolines.
package tile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"

	"github.com/plume-labs/plume/internal/geo"
	"github.com/plume-labs/plume/internal/model"
)

// LayerType names one renderable layer.
type LayerType string

const (
	LayerPoints      LayerType = "points"
	LayerUncertainty LayerType = "uncertainty"
	LayerContours    LayerType = "contours"
)

// AllLayers is the default layer set.
var AllLayers = []LayerType{LayerPoints, LayerUncertainty, LayerContours}

// Options tunes the encoder. Zero values take the defaults below.
type Options struct {
	// UncertaintyThreshold is the minimum uncertainty (ug/m^3) for a point
	// to appear in the uncertainty layer.
	UncertaintyThreshold float64

	// BufferFraction expands tile bounds on each side to avoid seams
	// between adjacent tiles.
	BufferFraction float64
}

const (
	defaultUncertaintyThreshold = 10.0
	defaultBufferFraction       = 0.0625
)

// contourLevels are the WHO-style PM2.5 thresholds rendered as contours,
// in ug/m^3.
var contourLevels = []float64{15, 25, 35, 50}

func (o Options) withDefaults() Options {
	if o.UncertaintyThreshold <= 0 {
		o.UncertaintyThreshold = defaultUncertaintyThreshold
	}
	if o.BufferFraction <= 0 {
		o.BufferFraction = defaultBufferFraction
	}
	return o
}

// Encode renders the requested layers of a grid that intersect tile z/x/y
// into MVT bytes. A grid with nothing inside the (buffered) tile bounds
// produces an empty tile, not an error, so upstream estimation gaps render
// as blank map area.
func Encode(grid *model.Grid, z, x, y int, layerTypes []LayerType, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	if len(layerTypes) == 0 {
		layerTypes = AllLayers
	}

	bounds := geo.TileBounds(z, x, y, opts.BufferFraction)

	var visible []model.GridPoint
	if grid != nil {
		for _, p := range grid.Points {
			if bounds.Contains(p.Latitude, p.Longitude) {
				visible = append(visible, p)
			}
		}
	}

	spacingDeg := 0.001
	if grid != nil && grid.Metadata.ResolutionM > 0 {
		spacingDeg = geo.MetersToDegrees(float64(grid.Metadata.ResolutionM))
	}

	collections := make(map[string]*geojson.FeatureCollection, len(layerTypes))
	for _, lt := range layerTypes {
		switch lt {
		case LayerPoints:
			collections[string(lt)] = pointsLayer(visible)
		case LayerUncertainty:
			collections[string(lt)] = uncertaintyLayer(visible, opts.UncertaintyThreshold, spacingDeg)
		case LayerContours:
			collections[string(lt)] = contoursLayer(visible)
		default:
			return nil, &model.InvalidRequestError{Reason: fmt.Sprintf("unknown tile layer %q", string(lt))}
		}
	}

	layers := mvt.NewLayers(collections)
	layers.ProjectToTile(maptile.New(uint32(x), uint32(y), maptile.Zoom(z)))
	layers.Clip(mvt.MapboxGLDefaultExtentBound)

	data, err := mvt.Marshal(layers)
	if err != nil {
		return nil, eris.Wrap(err, "tile: marshal mvt")
	}
	return data, nil
}

// pointsLayer renders every visible estimate as a styled point.
func pointsLayer(points []model.GridPoint) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewFeature(orb.Point{p.Longitude, p.Latitude})
		f.Properties = geojson.Properties{
			"c_hat":       round2(p.CHat),
			"uncertainty": round2(p.Uncertainty),
			"color":       concentrationColor(p.CHat),
			"opacity":     round2(concentrationOpacity(p.CHat)),
		}
		fc.Append(f)
	}
	return fc
}

// uncertaintyLayer renders a square polygon around each point whose
// uncertainty exceeds the threshold, sized proportionally to the excess.
func uncertaintyLayer(points []model.GridPoint, threshold, spacingDeg float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		if p.Uncertainty < threshold {
			continue
		}
		scale := p.Uncertainty / threshold
		if scale > 3 {
			scale = 3
		}
		half := spacingDeg / 2 * scale
		ring := orb.Ring{
			{p.Longitude - half, p.Latitude - half},
			{p.Longitude + half, p.Latitude - half},
			{p.Longitude + half, p.Latitude + half},
			{p.Longitude - half, p.Latitude + half},
			{p.Longitude - half, p.Latitude - half},
		}
		f := geojson.NewFeature(orb.Polygon{ring})
		f.Properties = geojson.Properties{
			"uncertainty": round2(p.Uncertainty),
		}
		fc.Append(f)
	}
	return fc
}

// contoursLayer approximates threshold isolines with the convex hull of
// the points at or above each level.
func contoursLayer(points []model.GridPoint) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, level := range contourLevels {
		var qualifying []orb.Point
		for _, p := range points {
			if p.CHat >= level {
				qualifying = append(qualifying, orb.Point{p.Longitude, p.Latitude})
			}
		}
		ring := convexHull(qualifying)
		if ring == nil {
			continue
		}
		f := geojson.NewFeature(orb.Polygon{ring})
		f.Properties = geojson.Properties{
			"level": level,
			"color": concentrationColor(level),
		}
		fc.Append(f)
	}
	return fc
}

// concentrationColor maps PM2.5 to the conventional AQI band colors.
func concentrationColor(c float64) string {
	switch {
	case c <= 12:
		return "#00e400"
	case c <= 35.4:
		return "#ffff00"
	case c <= 55.4:
		return "#ff7e00"
	case c <= 150.4:
		return "#ff0000"
	case c <= 250.4:
		return "#8f3f97"
	default:
		return "#7e0023"
	}
}

// concentrationOpacity scales point opacity with concentration, bounded to
// stay legible over the basemap.
func concentrationOpacity(c float64) float64 {
	op := 0.35 + c/100
	if op > 0.9 {
		op = 0.9
	}
	return op
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
