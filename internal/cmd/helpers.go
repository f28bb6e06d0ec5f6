package cmd

import (
	"github.com/CloakHQ/cloakbrowser/internal/config"
	"github.com/CloakHQ/cloakbrowser/internal/logging"
)

// loadConfig builds configuration from the --config flag or the
// standard locations.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadOrDefault(), nil
}

// newLogger maps --verbose and --quiet onto log levels. Logs go to
// stderr so stdout carries command output only.
func newLogger() *logging.Logger {
	level := "info"
	switch {
	case quiet:
		level = "error"
	case verbose:
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Development: true})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}
