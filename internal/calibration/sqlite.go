package calibration

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/plume-labs/plume/internal/model"
)

// SQLiteStore serves calibration models from a SQLite database. Suited to
// single-node deployments where models outlive the process; tools and tests
// use MemoryStore instead.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "calibration: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "calibration: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS calibration_models (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	sensor_id       TEXT NOT NULL,
	alpha           REAL NOT NULL,
	beta            REAL NOT NULL,
	gamma           REAL NOT NULL,
	delta           REAL NOT NULL,
	sigma_i         REAL NOT NULL,
	r2              REAL NOT NULL,
	last_calibrated DATETIME NOT NULL,
	is_active       INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_calibration_models_sensor
	ON calibration_models(sensor_id, is_active);
`

// Migrate creates the calibration table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "calibration: sqlite migrate")
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ActiveModel returns the active model for sensorID, or (nil, nil) when none
// exists. The newest active row wins if history was loaded out of band.
func (s *SQLiteStore) ActiveModel(ctx context.Context, sensorID string) (*model.CalibrationModel, error) {
	var cm model.CalibrationModel
	err := s.db.QueryRowContext(ctx, `
		SELECT sensor_id, alpha, beta, gamma, delta, sigma_i, r2, last_calibrated
		FROM calibration_models
		WHERE sensor_id = ? AND is_active = 1
		ORDER BY last_calibrated DESC LIMIT 1`, sensorID,
	).Scan(
		&cm.SensorID, &cm.Alpha, &cm.Beta, &cm.Gamma, &cm.Delta,
		&cm.SigmaI, &cm.R2, &cm.LastCalibrated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "calibration: sqlite active model")
	}
	cm.IsActive = true
	return &cm, nil
}

// Upsert installs a model as the active one for its sensor. The previous
// active model is deactivated, not deleted, so recalibration history stays
// queryable. Models with non-positive sigma are rejected.
func (s *SQLiteStore) Upsert(ctx context.Context, cm model.CalibrationModel) error {
	if cm.SigmaI <= 0 {
		return eris.Errorf("calibration: model for sensor %s has sigma_i %.3f, must be positive", cm.SensorID, cm.SigmaI)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "calibration: sqlite begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE calibration_models SET is_active = 0 WHERE sensor_id = ? AND is_active = 1`,
		cm.SensorID,
	); err != nil {
		return eris.Wrap(err, "calibration: sqlite supersede")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO calibration_models (
			sensor_id, alpha, beta, gamma, delta, sigma_i, r2, last_calibrated, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		cm.SensorID, cm.Alpha, cm.Beta, cm.Gamma, cm.Delta,
		cm.SigmaI, cm.R2, cm.LastCalibrated.UTC(),
	); err != nil {
		return eris.Wrap(err, "calibration: sqlite insert")
	}

	return eris.Wrap(tx.Commit(), "calibration: sqlite commit")
}
