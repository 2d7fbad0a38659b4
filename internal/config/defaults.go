package config

const (
	defaultStateDir              = "~/.local/share/sonactl"
	defaultJournalFile           = "journal.db"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultStartupTimeoutSeconds = 30
	defaultStopTimeoutSeconds    = 30
	defaultJournalEnabled        = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Runner: Runner{
			Port:           0,
			StartupTimeout: defaultStartupTimeoutSeconds,
			StopTimeout:    defaultStopTimeoutSeconds,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		Journal: Journal{
			Enabled: defaultJournalEnabled,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
