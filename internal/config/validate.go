package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRunner(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRunner() error {
	if c.Runner.Port < 0 || c.Runner.Port > 65535 {
		return fmt.Errorf("runner.port must be between 0 and 65535, got %d", c.Runner.Port)
	}
	if c.Runner.StartupTimeout < 0 {
		return errors.New("runner.startup_timeout must be zero (no limit) or positive")
	}
	if c.Runner.StopTimeout <= 0 {
		return errors.New("runner.stop_timeout must be positive")
	}
	for _, entry := range c.Runner.Env {
		if !strings.Contains(entry, "=") || strings.HasPrefix(entry, "=") {
			return fmt.Errorf("runner.env entry %q must be KEY=VALUE", entry)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
