package geo

import (
	"math"

	"github.com/plume-labs/plume/internal/model"
)

// TileBounds returns the geographic bounds of a slippy-map tile (z/x/y),
// expanded on every side by buffer as a fraction of the tile span. The
// buffer pulls in features just outside the tile so adjacent tiles render
// without seams.
func TileBounds(z, x, y int, buffer float64) model.BBox {
	n := math.Exp2(float64(z))

	west := float64(x)/n*360 - 180
	east := float64(x+1)/n*360 - 180
	north := tileLat(float64(y), n)
	south := tileLat(float64(y+1), n)

	if buffer > 0 {
		dLon := (east - west) * buffer
		dLat := (north - south) * buffer
		west -= dLon
		east += dLon
		south -= dLat
		north += dLat
	}
	return model.BBox{West: west, South: south, East: east, North: north}
}

func tileLat(y, n float64) float64 {
	rad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return rad * 180 / math.Pi
}
