package model

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection converts a grid into a GeoJSON FeatureCollection. Each
// estimated point becomes a Point feature carrying the estimate, its
// uncertainty and the method diagnostics; grid metadata rides in the
// collection's ExtraMembers.
func (g *Grid) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range g.Points {
		f := geojson.NewFeature(orb.Point{p.Longitude, p.Latitude})
		f.Properties = geojson.Properties{
			"c_hat":       p.CHat,
			"uncertainty": p.Uncertainty,
			"n_eff":       p.NEff,
		}
		if p.Diagnostics.IDW != nil {
			f.Properties["idw"] = p.Diagnostics.IDW
		}
		if p.Diagnostics.Kriging != nil {
			f.Properties["kriging"] = p.Diagnostics.Kriging
		}
		fc.Append(f)
	}
	fc.ExtraMembers = map[string]interface{}{
		"metadata": g.Metadata,
	}
	return fc
}
