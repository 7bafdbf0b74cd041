// Package config loads application configuration from config.yaml and
// PLUME_* environment variables via viper.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`

	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Interp    InterpConfig    `yaml:"interp" mapstructure:"interp"`
	Tile      TileConfig      `yaml:"tile" mapstructure:"tile"`
	Satellite SatelliteConfig `yaml:"satellite" mapstructure:"satellite"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CalibrationConfig configures the calibration model store. An empty
// sqlite_path leaves the server on whatever models the CLI flags load.
type CalibrationConfig struct {
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// CacheConfig configures the two-tier grid cache.
type CacheConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres | none
	SQLitePath     string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	MemoryEntries  int    `yaml:"memory_entries" mapstructure:"memory_entries"`
	IDWTTLMins     int    `yaml:"idw_ttl_mins" mapstructure:"idw_ttl_mins"`
	KrigingTTLMins int    `yaml:"kriging_ttl_mins" mapstructure:"kriging_ttl_mins"`
}

// InterpConfig configures the estimators.
type InterpConfig struct {
	MinNeighbors       int     `yaml:"min_neighbors" mapstructure:"min_neighbors"`
	SearchRadiusM      float64 `yaml:"search_radius_m" mapstructure:"search_radius_m"`
	Power              float64 `yaml:"power" mapstructure:"power"`
	MaxNeighbors       int     `yaml:"max_neighbors" mapstructure:"max_neighbors"`
	CalibrationSigma   float64 `yaml:"calibration_sigma" mapstructure:"calibration_sigma"`
	UncertaintyFloor   float64 `yaml:"uncertainty_floor" mapstructure:"uncertainty_floor"`
	UncertaintyCeiling float64 `yaml:"uncertainty_ceiling" mapstructure:"uncertainty_ceiling"`
	Workers            int     `yaml:"workers" mapstructure:"workers"`
}

// TileConfig configures the tile encoder.
type TileConfig struct {
	UncertaintyThreshold float64 `yaml:"uncertainty_threshold" mapstructure:"uncertainty_threshold"`
	BufferFraction       float64 `yaml:"buffer_fraction" mapstructure:"buffer_fraction"`
}

// SatelliteConfig configures the covariate field provider.
type SatelliteConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string  `yaml:"api_key" mapstructure:"api_key"`
	RateRPS    float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	RateBurst  int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	MaxRetries int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLUME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("calibration.sqlite_path", "")
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.sqlite_path", "plume-cache.db")
	v.SetDefault("cache.memory_entries", 256)
	v.SetDefault("cache.idw_ttl_mins", 15)
	v.SetDefault("cache.kriging_ttl_mins", 60)
	v.SetDefault("interp.min_neighbors", 3)
	v.SetDefault("interp.search_radius_m", 10000)
	v.SetDefault("interp.power", 2.0)
	v.SetDefault("interp.max_neighbors", 16)
	v.SetDefault("interp.calibration_sigma", 5.0)
	v.SetDefault("interp.uncertainty_floor", 0.1)
	v.SetDefault("interp.uncertainty_ceiling", 50.0)
	v.SetDefault("interp.workers", 4)
	v.SetDefault("tile.uncertainty_threshold", 10.0)
	v.SetDefault("tile.buffer_fraction", 0.0625)
	v.SetDefault("satellite.rate_rps", 2.0)
	v.SetDefault("satellite.rate_burst", 4)
	v.SetDefault("satellite.max_retries", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
