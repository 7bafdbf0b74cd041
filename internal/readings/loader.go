// Package readings loads harmonized sensor readings from JSON files for
// the CLI commands. The server consumes the same shape from its upstream
// feed; this loader applies the identical validation and deduplication.
package readings

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/model"
)

// Load reads a JSON array of raw readings, drops invalid rows, and
// deduplicates by sensor keeping the most recent reading. Invalid rows are
// logged and skipped rather than failing the file.
func Load(path string) ([]model.RawReading, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "readings: read %s", path)
	}

	var raws []model.RawReading
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, eris.Wrapf(err, "readings: parse %s", path)
	}

	return Dedupe(Validate(raws)), nil
}

// Validate filters readings with out-of-range coordinates, negative
// concentrations, or a missing sensor id.
func Validate(raws []model.RawReading) []model.RawReading {
	out := raws[:0:0]
	for _, r := range raws {
		switch {
		case r.SensorID == "":
			zap.L().Debug("reading dropped: empty sensor_id")
		case r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180:
			zap.L().Debug("reading dropped: coordinates out of range", zap.String("sensor_id", r.SensorID))
		case r.RawPM25 < 0:
			zap.L().Debug("reading dropped: negative concentration", zap.String("sensor_id", r.SensorID))
		default:
			out = append(out, r)
		}
	}
	return out
}

// Dedupe keeps the most recent reading per sensor, preserving first-seen
// order of sensors.
func Dedupe(raws []model.RawReading) []model.RawReading {
	latest := make(map[string]int, len(raws))
	var order []string
	for i, r := range raws {
		if j, ok := latest[r.SensorID]; ok {
			if r.Timestamp.After(raws[j].Timestamp) {
				latest[r.SensorID] = i
			}
			continue
		}
		latest[r.SensorID] = i
		order = append(order, r.SensorID)
	}

	out := make([]model.RawReading, 0, len(order))
	for _, id := range order {
		out = append(out, raws[latest[id]])
	}
	return out
}
