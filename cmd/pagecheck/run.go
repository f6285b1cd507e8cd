package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cgast/pagecheck/internal/config"
	"github.com/cgast/pagecheck/internal/inspector"
	"github.com/cgast/pagecheck/internal/runner"
	"github.com/cgast/pagecheck/internal/sandbox"
	"github.com/cgast/pagecheck/pkg/browser"
	cdpdriver "github.com/cgast/pagecheck/pkg/browser/chromedp"
	pwdriver "github.com/cgast/pagecheck/pkg/browser/playwright"
	"github.com/cgast/pagecheck/pkg/events"
	"github.com/cgast/pagecheck/pkg/history"
	ghnotify "github.com/cgast/pagecheck/pkg/notify/github"
	"github.com/cgast/pagecheck/pkg/task"
	"github.com/cgast/pagecheck/pkg/verify"
)

type runFlags struct {
	tasks         []string
	params        []string
	driver        string
	headed        bool
	remoteURL     string
	failFast      bool
	stopOnFailure bool
	persist       bool
	notify        bool
	inspect       string
}

func getRunCmd(root *rootCommand) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [tasks.yaml]",
		Short: "Run verification tasks",
		Long: `Run verification tasks against a running site.

Each task opens a fresh browser, loads its page, performs its path,
checks its expectations and writes its screenshot. The command exits
non-zero if any task fails.`,
		Example: `  pagecheck run
  pagecheck run verification/tasks.yaml --task layout --task verify
  pagecheck run --param base_url=http://localhost:3000 --driver playwright`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(root, cmd, f, tasksPath(args))
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&f.tasks, "task", "t", nil, "run only the named task (repeatable)")
	flags.StringArrayVarP(&f.params, "param", "p", nil, "set a task file parameter as key=value (repeatable)")
	flags.StringVar(&f.driver, "driver", "", "browser driver: chromedp or playwright")
	flags.BoolVar(&f.headed, "headed", false, "show the browser window")
	flags.StringVar(&f.remoteURL, "remote-url", "", "connect to a running browser over CDP")
	flags.BoolVar(&f.failFast, "fail-fast", false, "stop checking a task's expectations after the first mismatch")
	flags.BoolVar(&f.stopOnFailure, "stop-on-failure", false, "skip remaining tasks after the first failed task")
	flags.BoolVar(&f.persist, "persist", false, "record results in the history database")
	flags.BoolVar(&f.notify, "notify", false, "open a GitHub issue for failed tasks (needs platforms.yaml)")
	flags.StringVar(&f.inspect, "inspect", "", "serve a live view of the run on this address (e.g. :8484) until interrupted")
	return cmd
}

func tasksPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return config.DefaultTasksFile
}

func runTasks(root *rootCommand, cmd *cobra.Command, f *runFlags, path string) error {
	log := root.logger
	cfg := root.cfg
	applyRunFlags(cmd, f, &cfg)

	list, err := loadTaskList(path, f.params)
	if err != nil {
		return err
	}
	selected, err := list.Select(f.tasks)
	if err != nil {
		return err
	}

	driver, err := newDriver(cfg.Browser.Driver)
	if err != nil {
		return err
	}

	guard, err := sandbox.New(sandbox.Config{
		AllowedPaths: cfg.Output.OutputRoots(),
		DeniedPaths:  cfg.Output.DeniedPaths,
		MaxFileSize:  cfg.Output.MaxFileSize,
	})
	if err != nil {
		return err
	}
	log.WithField("roots", guard.AllowedPaths()).Debug("screenshot writes restricted")

	bus := events.NewMemoryBus(0)
	stopLogging := logEvents(log, bus)

	verifier := verify.New(driver,
		verify.WithFailFast(cfg.Verify.FailFast),
		verify.WithTimeouts(cfg.Verify.Timeouts()),
		verify.WithLaunchOptions(cfg.Browser.LaunchOptions()),
		verify.WithEvents(bus),
		verify.WithWriter(guard),
		verify.WithLogger(log),
	)

	opts := []runner.Option{
		runner.WithEvents(bus),
		runner.WithStopOnFailure(cfg.Verify.StopOnFailure),
		runner.WithLogger(log),
	}

	var store *history.Store
	if cfg.History.Persist {
		store, err = history.Open(historyPath(root), cfg.History.MaxEntries)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, runner.WithRecorder(store))
	}

	if f.notify {
		notifier, err := newNotifier(root.platCfg.GitHub)
		if err != nil {
			return err
		}
		opts = append(opts, runner.WithNotifier(notifier))
	}

	var inspectErr <-chan error
	if f.inspect != "" {
		iopts := []inspector.Option{inspector.WithScreenshotRoots(guard.AllowedPaths()...), inspector.WithLogger(log)}
		if store != nil {
			iopts = append(iopts, inspector.WithHistory(store))
		}
		addr, errc, err := inspector.New(bus, iopts...).Serve(root.ctx, f.inspect)
		if err != nil {
			return err
		}
		inspectErr = errc
		log.Infof("inspector at http://%s", addr)
	}

	log.WithFields(logrus.Fields{
		"tasks":  len(selected),
		"driver": driver.Name(),
		"file":   path,
	}).Info("starting verification")

	summary, err := runner.New(verifier, opts...).Run(root.ctx, selected)
	stopLogging()
	printSummary(summary)
	if err != nil {
		return err
	}
	if inspectErr != nil {
		log.Info("run finished, inspector still serving (Ctrl-C to exit)")
		if err := <-inspectErr; err != nil {
			return err
		}
	}
	if !summary.OK() {
		return errTasksFailed
	}
	return nil
}

// applyRunFlags overrides config values with flags the user set.
func applyRunFlags(cmd *cobra.Command, f *runFlags, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Browser.Driver = f.driver
	}
	if flags.Changed("headed") {
		cfg.Browser.Headless = !f.headed
	}
	if flags.Changed("remote-url") {
		cfg.Browser.RemoteURL = f.remoteURL
	}
	if flags.Changed("fail-fast") {
		cfg.Verify.FailFast = f.failFast
	}
	if flags.Changed("stop-on-failure") {
		cfg.Verify.StopOnFailure = f.stopOnFailure
	}
	if flags.Changed("persist") {
		cfg.History.Persist = f.persist
	}
}

func loadTaskList(path string, rawParams []string) (task.TaskList, error) {
	params, err := parseParams(rawParams)
	if err != nil {
		return task.TaskList{}, err
	}
	list, err := task.LoadTaskList(path, params)
	if err != nil {
		return task.TaskList{}, err
	}
	if vr := task.ValidateTaskList(list); !vr.Valid() {
		return task.TaskList{}, fmt.Errorf("%s: %w", path, vr)
	}
	return list, nil
}

// parseParams turns key=value pairs into a map.
func parseParams(raw []string) (map[string]string, error) {
	params := make(map[string]string, len(raw))
	for _, p := range raw {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q (expected key=value)", p)
		}
		params[k] = v
	}
	return params, nil
}

func newDriver(name string) (browser.Driver, error) {
	switch name {
	case config.DriverChromedp, "":
		return cdpdriver.New(), nil
	case config.DriverPlaywright:
		return pwdriver.New(), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", name)
	}
}

func newNotifier(gh config.GitHubConfig) (*ghnotify.Notifier, error) {
	if !gh.Enabled() {
		return nil, fmt.Errorf("--notify needs github.token and github.repo in %s", config.PlatformsFile)
	}
	client, err := ghnotify.NewClient(gh.Token)
	if err != nil {
		return nil, err
	}
	if gh.APIURL != "" {
		if err := client.SetBaseURL(gh.APIURL); err != nil {
			return nil, err
		}
	}
	return ghnotify.NewNotifier(client, gh.Repo, gh.Labels)
}

func historyPath(root *rootCommand) string {
	return root.cfg.History.DatabasePath(root.configDir)
}

// logEvents logs bus events at debug level until the returned func is
// called. The func blocks until buffered events are drained.
func logEvents(log logrus.FieldLogger, bus *events.MemoryBus) func() {
	ch := bus.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range ch {
			entry := log.WithField("event", string(e.Type))
			if e.Task != "" {
				entry = entry.WithField("task", e.Task)
			}
			if e.Duration > 0 {
				entry = entry.WithField("took", e.Duration.Round(time.Millisecond).String())
			}
			switch e.Type {
			case events.EventTaskStart, events.EventNavigate, events.EventAction, events.EventScreenshot, events.EventNotify:
				entry.Debug(e.Data)
			case events.EventExpectation:
				if er, ok := e.Data.(verify.ExpectationResult); ok {
					entry.WithField("passed", er.Passed).Debugf("%s observed %q", er.Expectation.Key(), er.Observed)
				}
			default:
				entry.Debug()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			bus.Unsubscribe(ch)
			wg.Wait()
		})
	}
}
