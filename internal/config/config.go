package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains runtime and log directory configuration.
type Paths struct {
	RuntimeDir string `toml:"runtime_dir"`
	LogDir     string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Client contains the connect-or-spawn retry policy.
type Client struct {
	MaxAttempts   int `toml:"max_attempts"`
	BackoffMS     int `toml:"backoff_ms"`
	DialTimeoutMS int `toml:"dial_timeout_ms"`
}

// Daemon contains daemon-side session and shutdown timing.
type Daemon struct {
	RequestTimeoutMS   int `toml:"request_timeout_ms"`
	StopTimeoutSeconds int `toml:"stop_timeout_seconds"`
}

// Config encapsulates all configuration values for tsusu.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Logging Logging `toml:"logging"`
	Client  Client  `toml:"client"`
	Daemon  Daemon  `toml:"daemon"`
}

const (
	userConfigPath    = "~/.config/tsusu/config.toml"
	projectConfigName = "tsusu.toml"
)

// DefaultConfigPath returns the per-user configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath(userConfigPath)
}

// Load locates, parses, and validates a configuration file. A missing file is
// not an error: defaults are used and exists is false.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// resolveConfigPath picks the explicit path when given. Otherwise the first
// existing file among the user config and ./tsusu.toml wins, and the user
// config path is reported when neither exists.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(expanded)
		if err != nil {
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, exists, nil
	}

	userPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, projectPath} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	default:
		return !info.IsDir(), nil
	}
}

// EnsureDirectories creates the log directory. The runtime directory is owned
// by the daemon startup sequence and is not created here.
func (c *Config) EnsureDirectories() error {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return nil
	}
	if err := os.MkdirAll(c.Paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.LogDir, err)
	}
	return nil
}

// DaemonLogFile is the daemon log file name inside Paths.LogDir.
const DaemonLogFile = "tsusu.log"

// DaemonLogPath returns the daemon log file, or "" when file logging is off.
func (c *Config) DaemonLogPath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, DaemonLogFile)
}

// ClientBackoff returns the fixed sleep between connect attempts.
func (c *Config) ClientBackoff() time.Duration {
	return time.Duration(c.Client.BackoffMS) * time.Millisecond
}

// DialTimeout returns the per-attempt connect timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Client.DialTimeoutMS) * time.Millisecond
}

// RequestTimeout returns how long a daemon session waits for a request frame.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Daemon.RequestTimeoutMS) * time.Millisecond
}

// StopTimeout returns how long `stop` waits for daemon cleanup.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Daemon.StopTimeoutSeconds) * time.Second
}

// ExpandPath resolves a leading "~" or "~/" against the home directory and
// returns an absolute, cleaned path. Empty input stays empty.
func ExpandPath(value string) (string, error) {
	return expandPath(value)
}

func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value[1:], "/"))
	}
	absolute, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return absolute, nil
}

// CreateSample writes the commented sample configuration to path, creating
// parent directories.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
