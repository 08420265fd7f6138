// Package config loads application configuration from file and environment
// and initializes the global logger.
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
	GSV      GSVConfig      `yaml:"gsv" mapstructure:"gsv"`
	MLY      MLYConfig      `yaml:"mly" mapstructure:"mly"`
	Geocode  GeocodeConfig  `yaml:"geocode" mapstructure:"geocode"`
	Network  NetworkConfig  `yaml:"network" mapstructure:"network"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// GSVConfig holds Street View credentials and tile defaults.
type GSVConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	Zoom   int    `yaml:"zoom" mapstructure:"zoom"`
	HTiles int    `yaml:"h_tiles" mapstructure:"h_tiles"`
	VTiles int    `yaml:"v_tiles" mapstructure:"v_tiles"`
}

// MLYConfig holds Mapillary credentials and thumbnail defaults.
type MLYConfig struct {
	Token        string  `yaml:"token" mapstructure:"token"`
	Resolution   int     `yaml:"resolution" mapstructure:"resolution"`
	SearchRadius float64 `yaml:"search_radius" mapstructure:"search_radius"`
}

// GeocodeConfig configures the Nominatim client and its response cache.
type GeocodeConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	CachePath string `yaml:"cache_path" mapstructure:"cache_path"`
	CacheTTL  int    `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
}

// NetworkConfig configures the rotated HTTP client.
type NetworkConfig struct {
	RPS            float64 `yaml:"rps" mapstructure:"rps"`
	DisableProxies bool    `yaml:"disable_proxies" mapstructure:"disable_proxies"`
}

// PipelineConfig configures batching and concurrency.
type PipelineConfig struct {
	BatchSize  int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxWorkers int `yaml:"max_workers" mapstructure:"max_workers"`
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
	v.SetEnvPrefix("SVI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Credentials default empty so the env bindings resolve.
	v.SetDefault("gsv.api_key", "")
	v.SetDefault("mly.token", "")
	v.SetDefault("geocode.cache_path", "")
	v.SetDefault("network.disable_proxies", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("pipeline.batch_size", 1000)
	v.SetDefault("pipeline.max_workers", 32)
	v.SetDefault("gsv.zoom", 2)
	v.SetDefault("gsv.h_tiles", 4)
	v.SetDefault("gsv.v_tiles", 2)
	v.SetDefault("mly.resolution", 1024)
	v.SetDefault("mly.search_radius", 50)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.cache_ttl_days", 30)
	v.SetDefault("network.rps", 0)

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
