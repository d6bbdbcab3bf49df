package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"keypilot/internal/domain"
)

// ApplyEnv overlays KEYPILOT_* environment variables on settings. In
// development a .env file in the working directory is loaded first.
func ApplyEnv(settings domain.Settings) domain.Settings {
	if getEnv("KEYPILOT_ENV", settings.Env) == "development" {
		_ = godotenv.Load(".env")
	}

	settings.Env = getEnv("KEYPILOT_ENV", settings.Env)
	settings.DataDir = getEnv("KEYPILOT_DATA_DIR", settings.DataDir)
	settings.StoreBackend = domain.StoreBackend(getEnv("KEYPILOT_STORE", string(settings.StoreBackend)))
	settings.Workers = getEnvInt("KEYPILOT_WORKERS", settings.Workers)
	settings.QueueSize = getEnvInt("KEYPILOT_QUEUE_SIZE", settings.QueueSize)
	settings.MoveThreshold = getEnvInt("KEYPILOT_MOVE_THRESHOLD", settings.MoveThreshold)
	settings.HTTPAddr = getEnv("KEYPILOT_HTTP_ADDR", settings.HTTPAddr)
	settings.LogLevel = getEnv("KEYPILOT_LOG_LEVEL", settings.LogLevel)

	return Normalize(settings)
}

// OTelConfig configures trace and log export.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Enabled reports whether an export endpoint is configured.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// LoadOTel reads the standard OTEL_* variables.
func LoadOTel() OTelConfig {
	return OTelConfig{
		Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		ServiceName:    getEnv("OTEL_SERVICE_NAME", "keypilot"),
		ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
