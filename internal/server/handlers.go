package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/geo"
	"github.com/plume-labs/plume/internal/gridcache"
	"github.com/plume-labs/plume/internal/model"
	"github.com/plume-labs/plume/internal/tile"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGrid computes (or serves from cache) a concentration grid and
// returns it as a GeoJSON FeatureCollection with metadata.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	spec, err := parseGridSpec(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	raws, err := s.readings.Readings(r.Context(), spec.BBox, spec.Timestamp)
	if err != nil {
		s.writeError(w, &model.UpstreamError{Upstream: "readings", Err: err})
		return
	}

	grid, err := s.engine.Grid(r.Context(), spec, raws)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if grid.Metadata.Stats.CacheHit {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, grid.FeatureCollection())
}

// handleTile renders one slippy tile. Upstream trouble inside the tile
// degrades to an empty tile; capacity rejections surface as 204 with an
// X-Tile-Status header so map clients can tell "no data here" from "zoom
// in further"; only malformed requests are errors.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	method := model.Method(chi.URLParam(r, "method"))
	if err := method.Validate(); err != nil {
		s.writeError(w, err)
		return
	}
	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errZ != nil || errX != nil || errY != nil || z < 0 || z > 22 {
		s.writeError(w, &model.InvalidRequestError{Reason: "malformed tile coordinates"})
		return
	}

	spec := model.GridSpec{
		BBox:        clampWorld(geo.TileBounds(z, x, y, s.tileOpts.BufferFraction)),
		ResolutionM: resolutionForZoom(z),
		Method:      method,
	}

	var data []byte
	raws, err := s.readings.Readings(r.Context(), spec.BBox, time.Time{})
	if err == nil {
		grid, gerr := s.engine.Grid(r.Context(), spec, raws)
		if gerr != nil {
			if model.IsInvalidRequest(gerr) {
				s.writeError(w, gerr)
				return
			}
			if model.IsCapacityExceeded(gerr) {
				// Low zoom levels cover more area than any admission tier
				// allows. An empty 200 tile would look like clean air, so
				// reply 204 and let the client prompt for a deeper zoom.
				w.Header().Set("X-Tile-Status", "capacity-exceeded")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			// Upstream trouble renders as an empty tile.
			s.logger.Warn("tile estimation degraded to empty tile",
				zap.Int("z", z), zap.Int("x", x), zap.Int("y", y), zap.Error(gerr))
		}
		data, err = tile.Encode(grid, z, x, y, tile.AllLayers, s.tileOpts)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if grid != nil && grid.Metadata.Stats.CacheHit {
			w.Header().Set("X-Cache", "hit")
		} else {
			w.Header().Set("X-Cache", "miss")
		}
	} else {
		s.logger.Warn("readings provider unavailable, serving empty tile", zap.Error(err))
		data, err = tile.Encode(nil, z, x, y, tile.AllLayers, s.tileOpts)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("X-Cache", "miss")
	}

	if cache := s.engine.Cache(); cache != nil {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(cache.MaxAge(method).Seconds())))
	}
	w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	_, _ = w.Write(data)
}

// handleResolutions serves the versioned admission contract.
func (s *Server) handleResolutions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": gridcache.ContractVersion,
		"tiers":   gridcache.Tiers(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	cache := s.engine.Cache()
	if cache == nil {
		writeJSON(w, http.StatusOK, gridcache.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, cache.Stats(r.Context()))
}

type invalidateRequest struct {
	All        bool        `json:"all,omitempty"`
	MaxAgeMins int         `json:"max_age_mins,omitempty"`
	BBox       *model.BBox `json:"bbox,omitempty"`
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	cache := s.engine.Cache()
	if cache == nil {
		writeJSON(w, http.StatusOK, map[string]int{"removed": 0})
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &model.InvalidRequestError{Reason: "invalid request body"})
		return
	}

	var removed int
	var err error
	switch {
	case req.All:
		removed, err = cache.InvalidateAll(r.Context())
	case req.MaxAgeMins > 0:
		removed, err = cache.InvalidateOlderThan(r.Context(), time.Duration(req.MaxAgeMins)*time.Minute)
	case req.BBox != nil:
		if verr := req.BBox.Validate(); verr != nil {
			s.writeError(w, verr)
			return
		}
		removed, err = cache.InvalidateBBox(r.Context(), *req.BBox)
	default:
		s.writeError(w, &model.InvalidRequestError{Reason: "one of all, max_age_mins or bbox is required"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// parseGridSpec reads and validates grid query parameters.
func parseGridSpec(r *http.Request) (model.GridSpec, error) {
	q := r.URL.Query()

	var spec model.GridSpec
	var err error
	if spec.BBox.West, err = parseFloat(q.Get("west")); err != nil {
		return spec, &model.InvalidRequestError{Reason: "west must be a number"}
	}
	if spec.BBox.South, err = parseFloat(q.Get("south")); err != nil {
		return spec, &model.InvalidRequestError{Reason: "south must be a number"}
	}
	if spec.BBox.East, err = parseFloat(q.Get("east")); err != nil {
		return spec, &model.InvalidRequestError{Reason: "east must be a number"}
	}
	if spec.BBox.North, err = parseFloat(q.Get("north")); err != nil {
		return spec, &model.InvalidRequestError{Reason: "north must be a number"}
	}
	if err := spec.BBox.Validate(); err != nil {
		return spec, err
	}

	res, err := strconv.Atoi(q.Get("resolution"))
	if err != nil {
		return spec, &model.InvalidRequestError{Reason: "resolution must be an integer (meters)"}
	}
	spec.ResolutionM = res

	spec.Method = model.MethodIDW
	if m := q.Get("method"); m != "" {
		spec.Method = model.Method(m)
		if err := spec.Method.Validate(); err != nil {
			return spec, err
		}
	}

	if ts := q.Get("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return spec, &model.InvalidRequestError{Reason: "timestamp must be RFC3339"}
		}
		spec.Timestamp = t
	}
	return spec, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// writeError maps the error taxonomy onto HTTP statuses. Capacity
// rejections include the suggested resolution so clients can retry
// correctly.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case model.IsInvalidRequest(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case model.IsCapacityExceeded(err):
		body := map[string]any{"error": err.Error()}
		var ce *model.CapacityError
		if errors.As(err, &ce) {
			body["suggested_resolution"] = ce.SuggestedM
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case model.IsUpstreamUnavailable(err):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clampWorld pulls a buffered tile bbox back inside valid world bounds.
func clampWorld(b model.BBox) model.BBox {
	if b.West < -180 {
		b.West = -180
	}
	if b.East > 180 {
		b.East = 180
	}
	if b.South < -90 {
		b.South = -90
	}
	if b.North > 90 {
		b.North = 90
	}
	return b
}

// resolutionForZoom maps slippy zoom levels onto the admission tiers.
func resolutionForZoom(z int) int {
	switch {
	case z >= 14:
		return 100
	case z >= 12:
		return 250
	case z >= 10:
		return 500
	default:
		return 1000
	}
}
