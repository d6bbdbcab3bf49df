package config

import (
	"os"
	"path/filepath"
	"strings"

	"keypilot/internal/domain"
)

const (
	defaultWorkers       = 2
	defaultQueueSize     = 64
	defaultMoveThreshold = 4
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		DataDir:       filepath.Join(homeDir, ".keypilot"),
		StoreBackend:  domain.StoreBackendJSON,
		Workers:       defaultWorkers,
		QueueSize:     defaultQueueSize,
		MoveThreshold: defaultMoveThreshold,
		Env:           "development",
		LogLevel:      "info",
	}
}

// Normalize trims user input and fills zero values with defaults.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	settings.DataDir = strings.TrimSpace(settings.DataDir)
	if settings.DataDir == "" {
		settings.DataDir = defaults.DataDir
	}
	switch settings.StoreBackend {
	case domain.StoreBackendJSON, domain.StoreBackendSQLite:
	default:
		settings.StoreBackend = defaults.StoreBackend
	}
	if settings.Workers <= 0 {
		settings.Workers = defaults.Workers
	}
	if settings.QueueSize <= 0 {
		settings.QueueSize = defaults.QueueSize
	}
	if settings.MoveThreshold <= 0 {
		settings.MoveThreshold = defaults.MoveThreshold
	}
	settings.HTTPAddr = strings.TrimSpace(settings.HTTPAddr)
	settings.Env = strings.TrimSpace(settings.Env)
	if settings.Env == "" {
		settings.Env = defaults.Env
	}
	settings.LogLevel = strings.ToLower(strings.TrimSpace(settings.LogLevel))
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
	return settings
}
