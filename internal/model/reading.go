package model

import "time"

// SensorReading is a single calibrated PM2.5 observation. Readings are
// request-scoped: they are produced by the calibration corrector and
// consumed by the estimators, never persisted here.
type SensorReading struct {
	SensorID           string    `json:"sensor_id"`
	Latitude           float64   `json:"lat"`
	Longitude          float64   `json:"lon"`
	RawPM25            float64   `json:"raw_pm25"`
	CorrectedPM25      float64   `json:"corrected_pm25"`
	SigmaI             float64   `json:"sigma_i"`
	CalibrationApplied bool      `json:"calibration_applied"`
	Source             string    `json:"source"`
	Timestamp          time.Time `json:"timestamp"`
}

// RawReading is an uncalibrated observation as delivered by the harmonized
// sensor feed. RH and Temperature are pointers because low-cost sensors
// frequently omit them.
type RawReading struct {
	SensorID    string    `json:"sensor_id"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lon"`
	RawPM25     float64   `json:"raw_pm25"`
	RH          *float64  `json:"rh,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// CalibrationModel holds the active per-sensor linear correction
// corrected = alpha + beta*raw + gamma*rh + delta*temperature.
// SigmaI is the residual standard deviation of the calibration fit and
// must be positive. Superseded models are deactivated, not deleted.
type CalibrationModel struct {
	SensorID       string    `json:"sensor_id"`
	Alpha          float64   `json:"alpha"`
	Beta           float64   `json:"beta"`
	Gamma          float64   `json:"gamma"`
	Delta          float64   `json:"delta"`
	SigmaI         float64   `json:"sigma_i"`
	R2             float64   `json:"r2"`
	LastCalibrated time.Time `json:"last_calibrated"`
	IsActive       bool      `json:"is_active"`
}
