package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"tsusu/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The runtime directory lives under a short temp root so socket paths stay
// within the sun_path limit.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := ShortTempDir(t)
	cfgVal := config.Default()
	cfgVal.Paths.RuntimeDir = filepath.Join(base, "run")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Logging.Level = "debug"
	cfgVal.Client.BackoffMS = 20
	cfgVal.Client.DialTimeoutMS = 200
	cfgVal.Daemon.RequestTimeoutMS = 200

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithClientRetry overrides the connect-or-spawn policy.
func WithClientRetry(attempts, backoffMS int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Client.MaxAttempts = attempts
		b.cfg.Client.BackoffMS = backoffMS
	}
}

// WithRequestTimeout overrides the daemon session request timeout.
func WithRequestTimeout(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.RequestTimeoutMS = ms
	}
}

// WithLogFormat sets the logging format.
func WithLogFormat(format string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Logging.Format = format
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}

// ShortTempDir creates a temp directory directly under the system temp root
// and removes it when the test ends. t.TempDir embeds the test name, which
// can push Unix socket paths past the kernel limit.
func ShortTempDir(t testing.TB) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "tsusu")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}

// WriteFile writes contents to path, creating parent directories.
func WriteFile(t testing.TB, path, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
