package main

import (
	"strings"
	"time"

	"layerforge/core"
	"layerforge/server"
)

// Config collects every environment-driven setting of the service.
type Config struct {
	Host            string
	Port            int
	StorageDir      string
	WeightsDir      string
	ModelEdge       int
	LogFile         string
	DevMode         bool
	MaxUploadMB     int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// LoadConfig reads the environment, falling back to development-friendly
// defaults so a bare `layerforge` starts against local directories.
func LoadConfig() Config {
	cfg := Config{
		Host:            core.GetEnvOrDefault("HOST", "0.0.0.0"),
		Port:            core.ParseIntEnv("PORT", 8000),
		StorageDir:      core.GetEnvOrDefault("STORAGE_DIR", "data"),
		WeightsDir:      core.GetEnvOrDefault("WEIGHTS_DIR", "weights"),
		ModelEdge:       core.ParseIntEnv("MODEL_EDGE", 0),
		LogFile:         core.GetEnvOrDefault("LOG_FILE", "layerforge.log"),
		DevMode:         core.ParseBoolEnv("DEV_MODE", false),
		MaxUploadMB:     core.ParseIntEnv("MAX_UPLOAD_MB", 64),
		ShutdownTimeout: core.ParseDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
	if origins := core.GetEnvOrDefault("ALLOWED_ORIGINS", ""); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}
	return cfg
}

// serverConfig maps the env settings onto the HTTP server's config.
func (c Config) serverConfig() server.Config {
	sc := server.DefaultConfig()
	sc.Host = c.Host
	sc.Port = c.Port
	sc.MaxUploadBytes = int64(c.MaxUploadMB) << 20
	sc.AllowedOrigins = c.AllowedOrigins
	sc.ShutdownTimeout = c.ShutdownTimeout
	return sc
}
