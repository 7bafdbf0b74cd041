// Package calibration applies per-sensor linear bias correction with
// propagated uncertainty. Correction is pure and total: a reading with no
// active model passes through raw with a conservative default sigma, and
// missing humidity/temperature fall back to fixed climatological defaults
// rather than failing the reading.
package calibration

import (
	"context"

	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/model"
)

const (
	// DefaultSigma is the conservative per-sensor uncertainty attached to
	// readings with no active calibration model, in ug/m^3.
	DefaultSigma = 8.0

	defaultRH          = 50.0
	defaultTemperature = 20.0
)

// Store looks up the active calibration model for a sensor. Implementations
// return (nil, nil) when no active model exists.
type Store interface {
	ActiveModel(ctx context.Context, sensorID string) (*model.CalibrationModel, error)
}

// Corrector turns raw readings into calibrated SensorReadings.
type Corrector struct {
	store  Store
	logger *zap.Logger
}

// NewCorrector builds a Corrector over the given model store.
func NewCorrector(store Store, logger *zap.Logger) *Corrector {
	if logger == nil {
		logger = zap.L()
	}
	return &Corrector{store: store, logger: logger}
}

// Correct applies the sensor's active calibration model to a raw reading.
// It never returns an error for a missing model, and a store failure
// degrades to the uncalibrated pass-through so one unreachable collaborator
// cannot fail a whole request.
func (c *Corrector) Correct(ctx context.Context, raw model.RawReading) model.SensorReading {
	reading := model.SensorReading{
		SensorID:      raw.SensorID,
		Latitude:      raw.Latitude,
		Longitude:     raw.Longitude,
		RawPM25:       raw.RawPM25,
		CorrectedPM25: clampNonNegative(raw.RawPM25),
		SigmaI:        DefaultSigma,
		Source:        raw.Source,
		Timestamp:     raw.Timestamp,
	}

	var cm *model.CalibrationModel
	if c.store != nil {
		var err error
		cm, err = c.store.ActiveModel(ctx, raw.SensorID)
		if err != nil {
			c.logger.Warn("calibration store unavailable, passing reading through",
				zap.String("sensor_id", raw.SensorID),
				zap.Error(err),
			)
			return reading
		}
	}
	if cm == nil || !cm.IsActive {
		return reading
	}

	rh := defaultRH
	if raw.RH != nil {
		rh = *raw.RH
	}
	temp := defaultTemperature
	if raw.Temperature != nil {
		temp = *raw.Temperature
	}

	corrected := cm.Alpha + cm.Beta*raw.RawPM25 + cm.Gamma*rh + cm.Delta*temp
	reading.CorrectedPM25 = clampNonNegative(corrected)
	reading.CalibrationApplied = true
	if cm.SigmaI > 0 {
		reading.SigmaI = cm.SigmaI
	}
	return reading
}

// CorrectAll applies Correct to every raw reading in order.
func (c *Corrector) CorrectAll(ctx context.Context, raws []model.RawReading) []model.SensorReading {
	out := make([]model.SensorReading, len(raws))
	for i, raw := range raws {
		out[i] = c.Correct(ctx, raw)
	}
	return out
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
