package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/calibration"
	"github.com/plume-labs/plume/internal/config"
	"github.com/plume-labs/plume/internal/engine"
	"github.com/plume-labs/plume/internal/gridcache"
	"github.com/plume-labs/plume/internal/interp"
	"github.com/plume-labs/plume/internal/model"
	"github.com/plume-labs/plume/internal/readings"
	"github.com/plume-labs/plume/internal/resilience"
	"github.com/plume-labs/plume/pkg/satellite"
)

// env holds the wired collaborators for one command invocation.
type env struct {
	engine *engine.Engine
	cache  *gridcache.Cache

	closers []func()
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initEngine wires calibration, cache, satellite covariates and the
// estimation engine from configuration. calibrationPath may be empty, in
// which case all corrections degrade to pass-through.
func initEngine(ctx context.Context, calibrationPath string) (*env, error) {
	logger := zap.L()
	e := &env{}

	calStore, closeCal, err := loadCalibration(ctx, calibrationPath)
	if err != nil {
		return nil, err
	}
	if closeCal != nil {
		e.closers = append(e.closers, closeCal)
	}
	corrector := calibration.NewCorrector(calStore, logger)

	durable, closeDurable, err := openDurable(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if closeDurable != nil {
		e.closers = append(e.closers, closeDurable)
	}

	e.cache = gridcache.New(
		gridcache.NewMemoryCache(cfg.Cache.MemoryEntries),
		durable,
		gridcache.TTLs{
			IDW:     minutes(cfg.Cache.IDWTTLMins),
			Kriging: minutes(cfg.Cache.KrigingTTLMins),
		},
		logger,
	)

	var covariates interp.CovariateProvider
	if cfg.Satellite.BaseURL != "" {
		covariates = satellite.New(cfg.Satellite.BaseURL, cfg.Satellite.APIKey,
			satellite.WithRateLimit(cfg.Satellite.RateRPS, cfg.Satellite.RateBurst),
			satellite.WithRetry(resilience.FromRetryConfig(cfg.Satellite.MaxRetries, 0, 0, 0, 0)),
		)
	}

	e.engine = engine.New(corrector, e.cache, covariates, interp.Params{
		MinNeighbors:       cfg.Interp.MinNeighbors,
		SearchRadiusM:      cfg.Interp.SearchRadiusM,
		Power:              cfg.Interp.Power,
		MaxNeighbors:       cfg.Interp.MaxNeighbors,
		CalibrationSigma:   cfg.Interp.CalibrationSigma,
		UncertaintyFloor:   cfg.Interp.UncertaintyFloor,
		UncertaintyCeiling: cfg.Interp.UncertaintyCeiling,
		Workers:            cfg.Interp.Workers,
	}, logger)
	e.engine.FallbackToIDW = true

	return e, nil
}

// loadCalibration resolves the calibration model store: an explicit JSON
// file wins, then the configured SQLite store, then an empty in-memory one
// that degrades every correction to pass-through.
func loadCalibration(ctx context.Context, path string) (calibration.Store, func(), error) {
	if path != "" {
		store, err := calibration.LoadFile(path)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "load calibration models from %s", path)
		}
		return store, nil, nil
	}
	if cfg.Calibration.SQLitePath != "" {
		store, err := calibration.NewSQLiteStore(cfg.Calibration.SQLitePath)
		if err != nil {
			return nil, nil, eris.Wrap(err, "open calibration store")
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, eris.Wrap(err, "migrate calibration store")
		}
		return store, func() { store.Close() }, nil
	}
	return calibration.NewMemoryStore(), nil, nil
}

// openDurable opens the durable cache tier named by the driver. The
// returned closer is nil when there is nothing to close.
func openDurable(ctx context.Context, cc config.CacheConfig) (gridcache.Durable, func(), error) {
	switch cc.Driver {
	case "", "none":
		return nil, nil, nil
	case "sqlite":
		store, err := gridcache.NewSQLite(cc.SQLitePath)
		if err != nil {
			return nil, nil, eris.Wrap(err, "open sqlite cache")
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, eris.Wrap(err, "migrate sqlite cache")
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cc.DatabaseURL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "connect postgres cache")
		}
		store := gridcache.NewPostgres(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, eris.Wrap(err, "migrate postgres cache")
		}
		return store, pool.Close, nil
	default:
		return nil, nil, eris.Errorf("unknown cache driver %q", cc.Driver)
	}
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// fileReadings serves sensor readings loaded from a JSON file, filtered
// to the requested bbox. Timestamps are ignored; the file is a snapshot.
type fileReadings struct {
	raws []model.RawReading
}

func newFileReadings(path string) (*fileReadings, error) {
	raws, err := readings.Load(path)
	if err != nil {
		return nil, err
	}
	return &fileReadings{raws: raws}, nil
}

func (f *fileReadings) Readings(_ context.Context, bbox model.BBox, _ time.Time) ([]model.RawReading, error) {
	var out []model.RawReading
	for _, r := range f.raws {
		if bbox.Contains(r.Latitude, r.Longitude) {
			out = append(out, r)
		}
	}
	return out, nil
}
