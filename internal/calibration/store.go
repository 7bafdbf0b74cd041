package calibration

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/plume-labs/plume/internal/model"
)

// MemoryStore is an in-memory calibration model store. Recalibration
// supersedes the previous model for a sensor rather than deleting it; only
// the active model is served.
type MemoryStore struct {
	mu     sync.RWMutex
	active map[string]model.CalibrationModel
	// superseded keeps deactivated models for audit; never served.
	superseded map[string][]model.CalibrationModel
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		active:     make(map[string]model.CalibrationModel),
		superseded: make(map[string][]model.CalibrationModel),
	}
}

// ActiveModel returns the active model for sensorID, or (nil, nil) when
// none exists.
func (s *MemoryStore) ActiveModel(_ context.Context, sensorID string) (*model.CalibrationModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cm, ok := s.active[sensorID]
	if !ok {
		return nil, nil
	}
	out := cm
	return &out, nil
}

// Upsert installs a model as the active one for its sensor, superseding any
// previous active model. Models with non-positive sigma are rejected.
func (s *MemoryStore) Upsert(cm model.CalibrationModel) error {
	if cm.SigmaI <= 0 {
		return eris.Errorf("calibration: model for sensor %s has sigma_i %.3f, must be positive", cm.SensorID, cm.SigmaI)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.active[cm.SensorID]; ok {
		prev.IsActive = false
		s.superseded[cm.SensorID] = append(s.superseded[cm.SensorID], prev)
	}
	cm.IsActive = true
	s.active[cm.SensorID] = cm
	return nil
}

// Len returns the number of sensors with an active model.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// LoadFile reads a JSON array of calibration models into a MemoryStore.
// Used by the CLI commands; the server wires whatever Store the deployment
// provides.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "calibration: read %s", path)
	}
	var models []model.CalibrationModel
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, eris.Wrapf(err, "calibration: parse %s", path)
	}
	store := NewMemoryStore()
	for _, cm := range models {
		if err := store.Upsert(cm); err != nil {
			return nil, err
		}
	}
	return store, nil
}
