package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/heliactyl/heliactyldb/pkg/validator"
)

// Config represents the runtime configuration of the KV daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Store      StoreConfig      `mapstructure:"store"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// DatabaseConfig carries the backend connection descriptor.
type DatabaseConfig struct {
	// URL is a postgres:// / postgresql:// URL, a sqlite:// URL, or a bare
	// filesystem path for the embedded backend.
	URL string `mapstructure:"url" validate:"required"`
}

// StoreConfig tunes the store handle.
type StoreConfig struct {
	Namespace        string        `mapstructure:"namespace"`
	EnableTTL        bool          `mapstructure:"enable_ttl"`
	MaxQueueSize     int           `mapstructure:"max_queue_size" validate:"omitempty,min=1"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	CacheSize        int           `mapstructure:"cache_size" validate:"omitempty,min=1"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles the health endpoint.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("HELIACTYL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.ValidateStruct(&config); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8400)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_json", true)

	v.SetDefault("database.url", "./data/heliactyl.sqlite")

	v.SetDefault("store.namespace", "heliactyl")
	v.SetDefault("store.enable_ttl", false)
	v.SetDefault("store.max_queue_size", 10000)
	v.SetDefault("store.operation_timeout", "30s")
	v.SetDefault("store.cache_size", 1000)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
