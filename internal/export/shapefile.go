// Package export writes computed grids to ESRI shapefiles for GIS
// consumers.
package export

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/plume-labs/plume/internal/model"
)

// Shapefile writes the grid's estimated points to path as a point
// shapefile with C_HAT, UNCERT and N_EFF attributes.
func Shapefile(grid *model.Grid, path string) error {
	if grid == nil || len(grid.Points) == 0 {
		return eris.New("export: grid has no points")
	}

	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer w.Close()

	fields := []shp.Field{
		shp.FloatField("C_HAT", 12, 4),
		shp.FloatField("UNCERT", 12, 4),
		shp.NumberField("N_EFF", 8),
		shp.StringField("METHOD", 16),
	}
	w.SetFields(fields)

	for i, p := range grid.Points {
		w.Write(&shp.Point{X: p.Longitude, Y: p.Latitude})
		if err := w.WriteAttribute(i, 0, p.CHat); err != nil {
			return eris.Wrap(err, "export: write attribute")
		}
		if err := w.WriteAttribute(i, 1, p.Uncertainty); err != nil {
			return eris.Wrap(err, "export: write attribute")
		}
		if err := w.WriteAttribute(i, 2, p.NEff); err != nil {
			return eris.Wrap(err, "export: write attribute")
		}
		if err := w.WriteAttribute(i, 3, string(grid.Metadata.Method)); err != nil {
			return eris.Wrap(err, "export: write attribute")
		}
	}
	return nil
}
