package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"tsusu/internal/config"
	"tsusu/internal/daemonctl"
	"tsusu/internal/ipc"
	"tsusu/internal/logging"
	"tsusu/internal/rundir"
)

// launchDaemon spawns the detached daemon process. Tests replace it.
var launchDaemon = daemonctl.Launch

type commandContext struct {
	configFlag     *string
	runtimeDirFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, runtimeDirFlag *string) *commandContext {
	return &commandContext{
		configFlag:     configFlag,
		runtimeDirFlag: runtimeDirFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// runtimeDirOverride returns the --runtime-dir flag, falling back to the
// configured runtime_dir.
func (c *commandContext) runtimeDirOverride(cfg *config.Config) (string, error) {
	if c.runtimeDirFlag != nil {
		if flag := strings.TrimSpace(*c.runtimeDirFlag); flag != "" {
			expanded, err := config.ExpandPath(flag)
			if err != nil {
				return "", fmt.Errorf("resolve runtime dir: %w", err)
			}
			return expanded, nil
		}
	}
	if cfg != nil {
		return cfg.Paths.RuntimeDir, nil
	}
	return "", nil
}

func (c *commandContext) runtimePaths() (rundir.Paths, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return rundir.Paths{}, err
	}
	override, err := c.runtimeDirOverride(cfg)
	if err != nil {
		return rundir.Paths{}, err
	}
	return rundir.Resolve(override)
}

func (c *commandContext) logger() *slog.Logger {
	cfg, _ := c.ensureConfig()
	logger, err := logging.NewClientLogger(cfg)
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// daemonArgs forwards the flags a spawned daemon needs to find the same
// configuration and runtime directory.
func (c *commandContext) daemonArgs() ([]string, error) {
	var args []string
	if path := c.configPath(); path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		args = append(args, "--config", expanded)
	}
	if c.runtimeDirFlag != nil && strings.TrimSpace(*c.runtimeDirFlag) != "" {
		override, err := c.runtimeDirOverride(nil)
		if err != nil {
			return nil, err
		}
		args = append(args, "--runtime-dir", override)
	}
	return args, nil
}

func (c *commandContext) launcher() (*daemonctl.Launcher, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	paths, err := c.runtimePaths()
	if err != nil {
		return nil, err
	}
	exe, err := daemonExecutable()
	if err != nil {
		return nil, err
	}
	args, err := c.daemonArgs()
	if err != nil {
		return nil, err
	}
	return &daemonctl.Launcher{
		SocketPath:  paths.Socket,
		PIDPath:     paths.PID,
		Executable:  exe,
		Args:        args,
		MaxAttempts: cfg.Client.MaxAttempts,
		Backoff:     cfg.ClientBackoff(),
		DialTimeout: cfg.DialTimeout(),
		Logger:      c.logger(),
		Spawn:       launchDaemon,
	}, nil
}

// withDaemon connects to the daemon, starting it when needed, and runs fn
// with the session.
func (c *commandContext) withDaemon(fn func(*ipc.Client) error) error {
	l, err := c.launcher()
	if err != nil {
		return err
	}
	client, err := l.ConnectOrStart()
	if err != nil {
		return c.wrapConnectError(err)
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) wrapConnectError(err error) error {
	if !errors.Is(err, daemonctl.ErrSpawnExhausted) {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	logHint := "the daemon log"
	if cfg, cfgErr := c.ensureConfig(); cfgErr == nil && cfg.DaemonLogPath() != "" {
		logHint = cfg.DaemonLogPath()
	}
	return fmt.Errorf("could not reach the tsusu daemon; check %s: %w", logHint, err)
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
