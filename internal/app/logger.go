package app

import "github.com/heliactyl/heliactyldb/pkg/logger"

// ConfigureLogging initialises the global logger from server settings.
func ConfigureLogging(cfg ServerConfig) error {
	return logger.Init(logger.Options{
		Level: cfg.LogLevel,
		JSON:  cfg.LogJSON,
	})
}
