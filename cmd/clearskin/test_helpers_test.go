package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"clearskin/internal/config"
	"clearskin/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	imagePath  string
	stub       *testsupport.DetectorStub
}

func setupCLITestEnv(t *testing.T, stub *testsupport.DetectorStub) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("CLEARSKIN_DETECTOR_URL", "")
	t.Setenv("CSAI_BASE_URL", "")

	detectorServer := testsupport.NewDetectorServer(t, stub)
	cfg := testsupport.NewConfig(t, testsupport.WithDetectorURL(detectorServer.URL))
	base := testsupport.BaseDir(cfg)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		imagePath:  testsupport.WriteJPEG(t, filepath.Join(base, "capture.jpg")),
		stub:       stub,
	}
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

// runCLI executes the root command with --config pointed at configPath and
// returns everything written to stdout.
func runCLI(t *testing.T, configPath, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

// firstOptions answers every question with its first option.
func firstOptions(n int) string {
	picks := make([]string, n)
	for i := range picks {
		picks[i] = "1"
	}
	return strings.Join(picks, ",")
}
