// Package gridcache provides the two-tier grid cache and its admission
// control. A fast in-memory LRU/TTL tier fronts a durable store; reads fall
// through and repopulate the fast tier, writes go to both as whole-entry
// replacements, so concurrent recomputation of the same key is harmless.
package gridcache

import (
	"sort"

	"github.com/plume-labs/plume/internal/geo"
	"github.com/plume-labs/plume/internal/model"
)

// ContractVersion identifies the resolution-tier contract. Bump when tiers
// or limits change; clients query the contract before requesting grids.
const ContractVersion = "v1"

// Tier is one admission-controlled resolution level.
type Tier struct {
	ResolutionM int     `json:"resolution_m" yaml:"resolution_m"`
	MaxAreaDeg2 float64 `json:"max_area_deg2" yaml:"max_area_deg2"`
	MaxPoints   int     `json:"max_points" yaml:"max_points"`
}

// tiers is ordered finest-first. Each point ceiling admits the tier's full
// max-area grid (a square max-area bbox at 1000m is ~310k cells), so the
// area ceiling binds for normal requests; the point ceiling rejects sliver
// bboxes thinner than a cell, whose edge rows inflate the count far past
// what the area implies.
var tiers = []Tier{
	{ResolutionM: 100, MaxAreaDeg2: 0.01, MaxPoints: 16000},
	{ResolutionM: 250, MaxAreaDeg2: 0.25, MaxPoints: 64000},
	{ResolutionM: 500, MaxAreaDeg2: 1.0, MaxPoints: 64000},
	{ResolutionM: 1000, MaxAreaDeg2: 25.0, MaxPoints: 400000},
}

// Tiers returns the admission contract, finest resolution first.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// ValidateResolution enforces admission control for a bbox/resolution pair.
// An unsupported resolution is an InvalidRequestError. A supported
// resolution whose bbox exceeds the tier's area or point ceiling is a
// CapacityError carrying the coarsest-fitting suggestion; the suggestion
// itself always passes validation for the same bbox when one exists.
func ValidateResolution(bbox model.BBox, resolutionM int) error {
	if err := bbox.Validate(); err != nil {
		return err
	}

	tier, ok := tierFor(resolutionM)
	if !ok {
		return &model.InvalidRequestError{
			Reason: "unsupported resolution; query the resolution contract for valid tiers",
		}
	}

	area := bbox.AreaDeg2()
	points := geo.EstimatePointCount(bbox, resolutionM)
	if area <= tier.MaxAreaDeg2 && points <= tier.MaxPoints {
		return nil
	}

	return &model.CapacityError{
		ResolutionM:     resolutionM,
		AreaDeg2:        area,
		MaxAreaDeg2:     tier.MaxAreaDeg2,
		EstimatedPoints: points,
		MaxPoints:       tier.MaxPoints,
		SuggestedM:      suggestResolution(bbox, resolutionM),
	}
}

// suggestResolution returns the finest coarser tier that admits the bbox,
// or 0 when even the coarsest tier rejects it.
func suggestResolution(bbox model.BBox, resolutionM int) int {
	area := bbox.AreaDeg2()
	for _, t := range tiers {
		if t.ResolutionM <= resolutionM {
			continue
		}
		if area <= t.MaxAreaDeg2 && geo.EstimatePointCount(bbox, t.ResolutionM) <= t.MaxPoints {
			return t.ResolutionM
		}
	}
	return 0
}

func tierFor(resolutionM int) (Tier, bool) {
	i := sort.Search(len(tiers), func(i int) bool { return tiers[i].ResolutionM >= resolutionM })
	if i < len(tiers) && tiers[i].ResolutionM == resolutionM {
		return tiers[i], true
	}
	return Tier{}, false
}
