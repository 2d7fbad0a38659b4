package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeRunner(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeJournal(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeRunner() error {
	if value, ok := os.LookupEnv("SONA_BINARY"); ok && strings.TrimSpace(value) != "" {
		c.Runner.Binary = value
	}
	c.Runner.Binary = strings.TrimSpace(c.Runner.Binary)
	if c.Runner.Binary != "" {
		expanded, err := expandPath(c.Runner.Binary)
		if err != nil {
			return fmt.Errorf("runner.binary: %w", err)
		}
		c.Runner.Binary = expanded
	}
	c.Runner.Host = strings.TrimSpace(c.Runner.Host)
	c.Runner.Model = strings.TrimSpace(c.Runner.Model)
	if c.Runner.Model != "" {
		expanded, err := expandPath(c.Runner.Model)
		if err != nil {
			return fmt.Errorf("runner.model: %w", err)
		}
		c.Runner.Model = expanded
	}
	env := make([]string, 0, len(c.Runner.Env))
	for _, entry := range c.Runner.Env {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			env = append(env, trimmed)
		}
	}
	c.Runner.Env = env
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeJournal() error {
	c.Journal.Path = strings.TrimSpace(c.Journal.Path)
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.Paths.StateDir, defaultJournalFile)
		return nil
	}
	var err error
	if c.Journal.Path, err = expandPath(c.Journal.Path); err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv("SONACTL_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
