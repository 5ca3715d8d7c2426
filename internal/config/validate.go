package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateClient(); err != nil {
		return err
	}
	return c.validateDaemon()
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

func (c *Config) validateClient() error {
	if c.Client.MaxAttempts < 1 {
		return errors.New("client.max_attempts must be at least 1")
	}
	if c.Client.BackoffMS <= 0 {
		return errors.New("client.backoff_ms must be positive")
	}
	if c.Client.DialTimeoutMS <= 0 {
		return errors.New("client.dial_timeout_ms must be positive")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.RequestTimeoutMS <= 0 {
		return errors.New("daemon.request_timeout_ms must be positive")
	}
	if c.Daemon.StopTimeoutSeconds <= 0 {
		return errors.New("daemon.stop_timeout_seconds must be positive")
	}
	return nil
}
