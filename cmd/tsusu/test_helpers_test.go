package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tsusu/internal/config"
	"tsusu/internal/daemonrun"
	"tsusu/internal/logging"
	"tsusu/internal/rundir"
	"tsusu/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	paths      rundir.Paths
	configPath string
	spawns     int
	starts     int
}

// setupCLITestEnv writes a config whose runtime dir is private to the test
// and replaces daemon spawning with an in-process daemon.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	// Generous retry budget so the in-process daemon has time to bind.
	opts = append([]testsupport.ConfigOption{testsupport.WithClientRetry(100, 20)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	env := &cliTestEnv{
		cfg:        cfg,
		paths:      rundir.ForDir(cfg.Paths.RuntimeDir),
		configPath: configPath,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	started := false
	previous := launchDaemon
	launchDaemon = func(string, []string) error {
		env.spawns++
		if started {
			return nil
		}
		started = true
		env.starts++
		go func() {
			defer close(done)
			_ = daemonrun.Run(ctx, cfg, daemonrun.Options{Logger: logging.NewNop()})
		}()
		return nil
	}
	t.Cleanup(func() {
		launchDaemon = previous
		cancel()
		if started {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Errorf("in-process daemon did not stop")
			}
		}
	})
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
