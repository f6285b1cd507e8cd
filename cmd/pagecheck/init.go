package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cgast/pagecheck/internal/config"
	"github.com/cgast/pagecheck/internal/discover"
)

const sampleTasks = `apiVersion: pagecheck/v1
kind: TaskList

params:
  - name: base_url
    default: http://localhost:8000
    description: root of the site under test

defaults:
  base_url: "{{base_url}}"

tasks:
  - name: layout
    path:
      - type: settle
    expect:
      - type: visibility
        selector: .hero
      - type: css
        selector: .nav
        property: position
        expected: sticky
    screenshot: verification/homepage.png
`

const sampleConfig = `# pagecheck runtime configuration
log_level: info

browser:
  driver: chromedp   # or playwright
  headless: true
  viewport:
    width: 1280
    height: 720

verify:
  fail_fast: false
  stop_on_failure: false
  launch_timeout: 30s
  navigation_timeout: 30s
  selector_timeout: 10s
  expect_timeout: 5s
  settle_timeout: 5s

output:
  dir: verification
  max_file_size: 20MB

history:
  persist: false
  max_entries: 500
`

type initFlags struct {
	from     string
	output   string
	force    bool
	maxPages int
}

func getInitCmd(root *rootCommand) *cobra.Command {
	f := &initFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a task file and a default config",
		Long: `Create a task file and a default config.

With --from, the running site is crawled and a title check is generated
for every same-site page, plus a task that clicks through the start
page's section links. Without it a small sample task file is written.`,
		Example: `  pagecheck init
  pagecheck init --from http://localhost:8000 --output verification/tasks.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(root, cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.from, "from", "", "crawl this URL to generate tasks")
	flags.StringVarP(&f.output, "output", "o", config.DefaultTasksFile, "task file to write")
	flags.BoolVar(&f.force, "force", false, "overwrite existing files")
	flags.IntVar(&f.maxPages, "max-pages", discover.DefaultMaxPages, "maximum pages to crawl")
	return cmd
}

func runInit(root *rootCommand, cmd *cobra.Command, f *initFlags) error {
	out := cmd.OutOrStdout()

	data := []byte(sampleTasks)
	if f.from != "" {
		crawler := discover.New(discover.WithMaxPages(f.maxPages), discover.WithLogger(root.logger))
		pages, err := crawler.Crawl(root.ctx, f.from)
		if err != nil {
			return err
		}
		tl, err := discover.BuildTaskList(f.from, pages, root.cfg.Output.Dir)
		if err != nil {
			return err
		}
		if data, err = discover.Marshal(tl, f.from); err != nil {
			return err
		}
		fmt.Fprintf(out, "Discovered %d page(s) at %s\n", len(pages), f.from)
	}

	if err := writeNew(f.output, data, f.force); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created %s\n", f.output)

	cfgPath := filepath.Join(root.configDir, config.ConfigFile)
	switch err := writeNew(cfgPath, []byte(sampleConfig), f.force); {
	case err == nil:
		fmt.Fprintf(out, "Created %s\n", cfgPath)
	case errors.Is(err, os.ErrExist):
		root.logger.WithField("path", cfgPath).Debug("keeping existing config")
	default:
		return err
	}

	fmt.Fprintln(out, "Start the site, then run:")
	fmt.Fprintf(out, "  pagecheck run %s\n", f.output)
	return nil
}

// writeNew writes data to path, creating parent directories. Unless force
// is set an existing file is left alone and an os.ErrExist error returned.
func writeNew(path string, data []byte, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite): %w", path, os.ErrExist)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
