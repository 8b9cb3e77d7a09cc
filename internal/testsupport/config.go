package testsupport

import (
	"path/filepath"
	"testing"

	"clearskin/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ImageDir = filepath.Join(base, "data", "images")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Detector.TimeoutSeconds = 5
	cfgVal.Detector.RetryBaseDelayMS = 1
	cfgVal.Detector.RetryMaxDelayMS = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return builder.cfg
}

// WithDetectorURL points the config at a stub analysis service.
func WithDetectorURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Detector.BaseURL = url
	}
}

// WithAPIToken sets the HTTP API bearer token.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithRetryAttempts overrides the detector retry policy.
func WithRetryAttempts(attempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Detector.RetryAttempts = attempts
	}
}

// WithDetectorTimeout overrides the per-request analysis timeout.
func WithDetectorTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Detector.TimeoutSeconds = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
