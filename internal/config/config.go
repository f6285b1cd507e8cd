package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cgast/pagecheck/pkg/browser"
	"github.com/cgast/pagecheck/pkg/verify"
)

// Default locations, relative to the project root.
const (
	DefaultDir          = ".pagecheck"
	ConfigFile          = "config.yaml"
	PlatformsFile       = "platforms.yaml"
	DefaultTasksFile    = "verification/tasks.yaml"
	DefaultOutputDir    = "verification"
	DefaultHistoryFile  = "history.db"
	DriverChromedp      = "chromedp"
	DriverPlaywright    = "playwright"
	DefaultHistoryLimit = 500
)

// Config represents the runtime configuration from .pagecheck/config.yaml.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Browser  BrowserConfig `yaml:"browser"`
	Verify   VerifyConfig  `yaml:"verify"`
	Output   OutputConfig  `yaml:"output"`
	History  HistoryConfig `yaml:"history"`
}

// BrowserConfig selects and configures the browser driver.
type BrowserConfig struct {
	Driver    string         `yaml:"driver"` // "chromedp" or "playwright"
	Headless  bool           `yaml:"headless"`
	RemoteURL string         `yaml:"remote_url"` // CDP endpoint of an already running browser
	ExecPath  string         `yaml:"exec_path"`
	Viewport  ViewportConfig `yaml:"viewport"`
}

// ViewportConfig is the default window size.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// VerifyConfig defines verification defaults.
type VerifyConfig struct {
	FailFast          bool          `yaml:"fail_fast"`
	StopOnFailure     bool          `yaml:"stop_on_failure"`
	LaunchTimeout     time.Duration `yaml:"launch_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	SelectorTimeout   time.Duration `yaml:"selector_timeout"`
	ExpectTimeout     time.Duration `yaml:"expect_timeout"`
	SettleTimeout     time.Duration `yaml:"settle_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// OutputConfig restricts where screenshots may be written.
type OutputConfig struct {
	Dir          string   `yaml:"dir"`
	AllowedPaths []string `yaml:"allowed_paths"`
	DeniedPaths  []string `yaml:"denied_paths"`
	MaxFileSize  string   `yaml:"max_file_size"`
}

// HistoryConfig defines result history settings.
type HistoryConfig struct {
	Persist    bool   `yaml:"persist"`
	Path       string `yaml:"path"` // defaults to history.db in the config directory
	MaxEntries int    `yaml:"max_entries"`
}

// PlatformConfig represents platform credentials from .pagecheck/platforms.yaml.
type PlatformConfig struct {
	GitHub GitHubConfig `yaml:"github"`
}

// GitHubConfig holds GitHub issue notification settings.
type GitHubConfig struct {
	Token  string   `yaml:"token"`
	Repo   string   `yaml:"repo"` // owner/name
	Labels []string `yaml:"labels"`
	APIURL string   `yaml:"api_url"`
}

// Enabled reports whether failed tasks should be reported to GitHub.
func (g GitHubConfig) Enabled() bool {
	return g.Token != "" && !strings.HasPrefix(g.Token, "${") && g.Repo != ""
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Browser: BrowserConfig{
			Driver:   DriverChromedp,
			Headless: true,
			Viewport: ViewportConfig{Width: browser.DefaultWidth, Height: browser.DefaultHeight},
		},
		Verify: VerifyConfig{
			FailFast:          false,
			LaunchTimeout:     verify.DefaultLaunchTimeout,
			NavigationTimeout: verify.DefaultNavigationTimeout,
			SelectorTimeout:   verify.DefaultSelectorTimeout,
			ExpectTimeout:     verify.DefaultExpectTimeout,
			SettleTimeout:     verify.DefaultSettleTimeout,
			PollInterval:      verify.DefaultPollInterval,
		},
		Output: OutputConfig{
			Dir:         DefaultOutputDir,
			MaxFileSize: "20MB",
		},
		History: HistoryConfig{
			Persist:    false,
			MaxEntries: DefaultHistoryLimit,
		},
	}
}

// LoadConfig reads and parses a runtime config YAML file.
// Returns default config if the file doesn't exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be caught by YAML decoding.
func (c Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.Browser.Driver {
	case DriverChromedp, DriverPlaywright:
	default:
		errs = append(errs, fmt.Errorf("browser.driver: unknown driver %q (want %s or %s)", c.Browser.Driver, DriverChromedp, DriverPlaywright))
	}
	if c.Browser.Viewport.Width < 0 || c.Browser.Viewport.Height < 0 {
		errs = append(errs, errors.New("browser.viewport: must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"launch_timeout":     c.Verify.LaunchTimeout,
		"navigation_timeout": c.Verify.NavigationTimeout,
		"selector_timeout":   c.Verify.SelectorTimeout,
		"expect_timeout":     c.Verify.ExpectTimeout,
		"settle_timeout":     c.Verify.SettleTimeout,
		"poll_interval":      c.Verify.PollInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("verify.%s: must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// LaunchOptions converts the browser settings for a driver.
func (b BrowserConfig) LaunchOptions() browser.LaunchOptions {
	return browser.LaunchOptions{
		Headless:  b.Headless,
		Width:     b.Viewport.Width,
		Height:    b.Viewport.Height,
		RemoteURL: b.RemoteURL,
		ExecPath:  b.ExecPath,
	}
}

// Timeouts converts the verify settings for the verifier.
func (v VerifyConfig) Timeouts() verify.Timeouts {
	return verify.Timeouts{
		Launch:     v.LaunchTimeout,
		Navigation: v.NavigationTimeout,
		Selector:   v.SelectorTimeout,
		Expect:     v.ExpectTimeout,
		Settle:     v.SettleTimeout,
		Poll:       v.PollInterval,
	}
}

// OutputRoots returns the directories screenshots may be written to. The
// output dir is always included.
func (o OutputConfig) OutputRoots() []string {
	roots := make([]string, 0, len(o.AllowedPaths)+1)
	if o.Dir != "" {
		roots = append(roots, o.Dir)
	}
	return append(roots, o.AllowedPaths...)
}

// DatabasePath returns the history database location for configDir.
func (h HistoryConfig) DatabasePath(configDir string) string {
	if h.Path != "" {
		return h.Path
	}
	return filepath.Join(configDir, DefaultHistoryFile)
}

// LoadPlatformConfig reads and parses a platform credentials YAML file.
// Performs environment variable interpolation on string values.
func LoadPlatformConfig(path string) (PlatformConfig, error) {
	var cfg PlatformConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read platform config %s: %w", path, err)
	}

	// Interpolate environment variables before parsing.
	interpolated := interpolateEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return cfg, fmt.Errorf("parse platform config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment. Variables already set are not overridden and missing files
// are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match // Leave unresolved if not set.
	})
}
