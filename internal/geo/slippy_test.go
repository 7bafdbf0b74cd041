package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTileBounds_WorldTile(t *testing.T) {
	b := TileBounds(0, 0, 0, 0)

	assert.InDelta(t, -180, b.West, 1e-9)
	assert.InDelta(t, 180, b.East, 1e-9)
	assert.InDelta(t, 85.0511, b.North, 1e-3)
	assert.InDelta(t, -85.0511, b.South, 1e-3)
}

func TestTileBounds_Quadrants(t *testing.T) {
	// At z=1 the NW tile covers the north-west quarter of the world.
	b := TileBounds(1, 0, 0, 0)
	assert.InDelta(t, -180, b.West, 1e-9)
	assert.InDelta(t, 0, b.East, 1e-9)
	assert.InDelta(t, 0, b.South, 1e-9)
	assert.InDelta(t, 85.0511, b.North, 1e-3)
}

func TestTileBounds_Buffer(t *testing.T) {
	plain := TileBounds(12, 655, 1583, 0)
	buffered := TileBounds(12, 655, 1583, 0.0625)

	assert.Less(t, buffered.West, plain.West)
	assert.Greater(t, buffered.East, plain.East)
	assert.Less(t, buffered.South, plain.South)
	assert.Greater(t, buffered.North, plain.North)

	// Buffer is a fraction of the tile span per side.
	span := plain.East - plain.West
	assert.InDelta(t, span*0.0625, plain.West-buffered.West, 1e-9)
}

func TestTileBounds_AdjacentTilesShareEdges(t *testing.T) {
	left := TileBounds(10, 163, 395, 0)
	right := TileBounds(10, 164, 395, 0)
	assert.InDelta(t, left.East, right.West, 1e-9)

	upper := TileBounds(10, 163, 395, 0)
	lower := TileBounds(10, 163, 396, 0)
	assert.InDelta(t, upper.South, lower.North, 1e-9)
}
