package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Browser.Driver != DriverChromedp {
		t.Errorf("Browser.Driver = %q, want %q", cfg.Browser.Driver, DriverChromedp)
	}
	if !cfg.Browser.Headless {
		t.Error("Browser.Headless should be true by default")
	}
	if cfg.Verify.FailFast {
		t.Error("Verify.FailFast should be false by default")
	}
	if cfg.History.Persist {
		t.Error("History.Persist should be off by default")
	}
	if got := cfg.Verify.Timeouts().Launch; got != 30*time.Second {
		t.Errorf("Timeouts().Launch = %s, want 30s", got)
	}
	if cfg.Output.Dir != "verification" {
		t.Errorf("Output.Dir = %q, want verification", cfg.Output.Dir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
log_level: debug
browser:
  driver: playwright
  headless: false
  remote_url: ws://127.0.0.1:9222
  viewport:
    width: 1920
    height: 1080
verify:
  fail_fast: true
  stop_on_failure: true
  expect_timeout: 2s
  settle_timeout: 1500ms
output:
  dir: out
  allowed_paths: [/tmp/shots]
history:
  persist: true
  max_entries: 50
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Browser.Driver != DriverPlaywright {
		t.Errorf("Browser.Driver = %q", cfg.Browser.Driver)
	}
	if cfg.Browser.Headless {
		t.Error("Browser.Headless should be false")
	}
	if !cfg.Verify.FailFast || !cfg.Verify.StopOnFailure {
		t.Error("Verify.FailFast and StopOnFailure should be true")
	}
	if cfg.Verify.ExpectTimeout != 2*time.Second {
		t.Errorf("ExpectTimeout = %s, want 2s", cfg.Verify.ExpectTimeout)
	}
	if cfg.Verify.SettleTimeout != 1500*time.Millisecond {
		t.Errorf("SettleTimeout = %s, want 1.5s", cfg.Verify.SettleTimeout)
	}
	// Unset keys keep their defaults.
	if cfg.Verify.NavigationTimeout != DefaultConfig().Verify.NavigationTimeout {
		t.Errorf("NavigationTimeout = %s, want default", cfg.Verify.NavigationTimeout)
	}
	if !cfg.History.Persist || cfg.History.MaxEntries != 50 {
		t.Errorf("History = %+v", cfg.History)
	}
	if got := cfg.History.DatabasePath(DefaultDir); got != filepath.Join(DefaultDir, DefaultHistoryFile) {
		t.Errorf("DatabasePath = %q, want default", got)
	}

	opts := cfg.Browser.LaunchOptions()
	if opts.Width != 1920 || opts.Height != 1080 || opts.RemoteURL != "ws://127.0.0.1:9222" {
		t.Errorf("LaunchOptions = %+v", opts)
	}
	if got := cfg.Verify.Timeouts().Expect; got != 2*time.Second {
		t.Errorf("Timeouts().Expect = %s", got)
	}
	if got := cfg.Output.OutputRoots(); !reflect.DeepEqual(got, []string{"out", "/tmp/shots"}) {
		t.Errorf("OutputRoots() = %v", got)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "browser:\n  driver: selenium\n"},
		{"bad log level", "log_level: loud\n"},
		{"negative timeout", "verify:\n  expect_timeout: -1s\n"},
		{"negative launch timeout", "verify:\n  launch_timeout: -1s\n"},
		{"bad duration", "verify:\n  expect_timeout: soon\n"},
		{"negative viewport", "browser:\n  viewport:\n    width: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfigMissing(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Browser.Driver != DriverChromedp {
		t.Errorf("Browser.Driver = %q, want default %q", cfg.Browser.Driver, DriverChromedp)
	}
}

func TestLoadPlatformConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "platforms.yaml")

	// Set env var for interpolation.
	t.Setenv("TEST_GH_TOKEN", "ghp_test123")

	yaml := `
github:
  token: "${TEST_GH_TOKEN}"
  repo: "cgast/portfolio"
  labels:
    - pagecheck
    - regression
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadPlatformConfig(path)
	if err != nil {
		t.Fatalf("LoadPlatformConfig: %v", err)
	}

	if cfg.GitHub.Token != "ghp_test123" {
		t.Errorf("GitHub.Token = %q, want %q", cfg.GitHub.Token, "ghp_test123")
	}
	if cfg.GitHub.Repo != "cgast/portfolio" {
		t.Errorf("GitHub.Repo = %q, want %q", cfg.GitHub.Repo, "cgast/portfolio")
	}
	if len(cfg.GitHub.Labels) != 2 {
		t.Errorf("GitHub.Labels = %v, want 2 labels", cfg.GitHub.Labels)
	}
	if !cfg.GitHub.Enabled() {
		t.Error("GitHub notifications should be enabled")
	}
}

func TestGitHubEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  GitHubConfig
		want bool
	}{
		{"token and repo", GitHubConfig{Token: "t", Repo: "a/b"}, true},
		{"no repo", GitHubConfig{Token: "t"}, false},
		{"no token", GitHubConfig{Repo: "a/b"}, false},
		{"unresolved token", GitHubConfig{Token: "${GITHUB_TOKEN}", Repo: "a/b"}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.Enabled(); got != tt.want {
			t.Errorf("%s: Enabled() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLoadPlatformConfigMissing(t *testing.T) {
	cfg, err := LoadPlatformConfig("/nonexistent/path/platforms.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.GitHub.Token != "" {
		t.Errorf("GitHub.Token should be empty, got %q", cfg.GitHub.Token)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "PAGECHECK_TEST_TOKEN=from-dotenv\nPAGECHECK_TEST_KEEP=from-dotenv\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PAGECHECK_TEST_KEEP", "from-env")
	// Registers cleanup so the loaded value does not leak into other tests.
	t.Setenv("PAGECHECK_TEST_TOKEN", "")
	os.Unsetenv("PAGECHECK_TEST_TOKEN")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if got := os.Getenv("PAGECHECK_TEST_TOKEN"); got != "from-dotenv" {
		t.Errorf("PAGECHECK_TEST_TOKEN = %q, want from-dotenv", got)
	}
	if got := os.Getenv("PAGECHECK_TEST_KEEP"); got != "from-env" {
		t.Errorf("PAGECHECK_TEST_KEEP = %q, existing env must win", got)
	}
}

func TestInterpolateEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("NUM_123", "456")

	tests := []struct {
		input string
		want  string
	}{
		{"${FOO}", "bar"},
		{"prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"${UNSET_VAR}", "${UNSET_VAR}"}, // unresolved stays
		{"${FOO} and ${NUM_123}", "bar and 456"},
		{"no vars here", "no vars here"},
	}

	for _, tt := range tests {
		got := interpolateEnvVars(tt.input)
		if got != tt.want {
			t.Errorf("interpolateEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
