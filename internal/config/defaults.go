package config

const (
	defaultLogDir             = "~/.local/state/tsusu"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultClientMaxAttempts  = 4
	defaultClientBackoffMS    = 500
	defaultClientDialTimeout  = 1000
	defaultRequestTimeoutMS   = 500
	defaultStopTimeoutSeconds = 5
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir: defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Client: Client{
			MaxAttempts:   defaultClientMaxAttempts,
			BackoffMS:     defaultClientBackoffMS,
			DialTimeoutMS: defaultClientDialTimeout,
		},
		Daemon: Daemon{
			RequestTimeoutMS:   defaultRequestTimeoutMS,
			StopTimeoutSeconds: defaultStopTimeoutSeconds,
		},
	}
}
