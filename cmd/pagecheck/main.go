package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cgast/pagecheck/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errTasksFailed signals a completed run with failed tasks. The failures
// were already reported, so main only sets the exit code.
var errTasksFailed = errors.New("one or more tasks failed")

type rootCommand struct {
	ctx       context.Context
	logger    *logrus.Logger
	cmd       *cobra.Command
	configDir string
	verbose   bool
	noColor   bool

	cfg     config.Config
	platCfg config.PlatformConfig
}

func newRootCommand(ctx context.Context, logger *logrus.Logger) *rootCommand {
	c := &rootCommand{ctx: ctx, logger: logger}
	c.cmd = &cobra.Command{
		Use:               "pagecheck",
		Short:             "verify rendered web pages in a headless browser",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}

	flags := c.cmd.PersistentFlags()
	flags.StringVar(&c.configDir, "config-dir", envOr("PAGECHECK_DIR", config.DefaultDir), "directory holding config.yaml, platforms.yaml and history")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	return c
}

func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	if c.noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
	c.logger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   stderrTTY && !color.NoColor,
		DisableColors: !stderrTTY || color.NoColor,
	})
	if stderrTTY && !color.NoColor {
		c.logger.SetOutput(colorable.NewColorableStderr())
	}

	if err := config.LoadDotEnv(".env", filepath.Join(c.configDir, ".env")); err != nil {
		c.logger.WithError(err).Warn("could not load .env")
	}

	cfg, err := config.LoadConfig(filepath.Join(c.configDir, config.ConfigFile))
	if err != nil {
		return err
	}
	c.cfg = cfg

	platCfg, err := config.LoadPlatformConfig(filepath.Join(c.configDir, config.PlatformsFile))
	if err != nil {
		c.logger.WithError(err).Warn("could not load platform config")
	}
	c.platCfg = platCfg

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if c.verbose {
		level = logrus.DebugLevel
	}
	c.logger.SetLevel(level)
	c.logger.Debugf("pagecheck %s", version)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	c := newRootCommand(ctx, logger)
	c.cmd.AddCommand(
		getRunCmd(c),
		getValidateCmd(c),
		getInitCmd(c),
		getHistoryCmd(c),
		getDiffCmd(c),
		getVersionCmd(),
	)

	if err := c.cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errTasksFailed) {
			logger.Error(err)
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute())
}
