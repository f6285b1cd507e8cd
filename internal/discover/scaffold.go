package discover

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cgast/pagecheck/pkg/task"
)

// BuildTaskList turns crawled pages into a task list: a title check for
// every page, plus a "sections" task that clicks through the start page's
// in-page anchors and captures each section.
func BuildTaskList(start string, pages []Page, outDir string) (task.TaskList, error) {
	baseURL, err := baseOf(start)
	if err != nil {
		return task.TaskList{}, err
	}

	tl := task.TaskList{
		APIVersion: task.APIVersion,
		Kind:       task.KindTaskList,
		Defaults:   task.Defaults{BaseURL: baseURL},
	}

	names := make(map[string]int)
	unique := func(name string) string {
		names[name]++
		if n := names[name]; n > 1 {
			return fmt.Sprintf("%s-%d", name, n)
		}
		return name
	}

	for _, p := range pages {
		name := unique(taskName(p.Path))
		t := task.Task{
			Name:       name,
			Page:       p.Path,
			Path:       []task.Action{{Type: task.ActionSettle}},
			Screenshot: filepath.ToSlash(filepath.Join(outDir, name+".png")),
		}
		if p.Title != "" {
			t.Expect = []task.Expectation{{Type: task.ExpectTitle, Expected: p.Title}}
		}
		tl.Tasks = append(tl.Tasks, t)
	}

	if len(pages) > 0 && len(pages[0].Anchors) > 0 {
		tl.Tasks = append(tl.Tasks, sectionsTask(unique("sections"), pages[0], outDir))
	}
	return tl, nil
}

func sectionsTask(name string, home Page, outDir string) task.Task {
	t := task.Task{Name: name, Page: home.Path}
	for i, anchor := range home.Anchors {
		section := strings.TrimPrefix(anchor, "#")
		shot := filepath.ToSlash(filepath.Join(outDir, name+"-"+section+".png"))
		t.Path = append(t.Path,
			task.Action{Type: task.ActionClick, Selector: fmt.Sprintf("a[href='%s']", anchor)},
			task.Action{Type: task.ActionSettle},
		)
		if i == len(home.Anchors)-1 {
			t.Screenshot = shot
			break
		}
		t.Path = append(t.Path, task.Action{Type: task.ActionScreenshot, Path: shot})
	}
	return t
}

// Marshal renders tl as a task file.
func Marshal(tl task.TaskList, source string) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Generated by pagecheck init from %s.\n", source)
	buf.WriteString("# Review the expectations before committing.\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tl); err != nil {
		return nil, fmt.Errorf("encode task list: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// baseOf returns the directory URL of start, without a trailing slash.
func baseOf(start string) (string, error) {
	u, err := url.Parse(start)
	if err != nil {
		return "", fmt.Errorf("parse start url: %w", err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	if u.Path != "" && !strings.HasSuffix(u.Path, "/") {
		u.Path = path.Dir(u.Path)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// taskName derives a task name from a page path: "projects/asl.html"
// becomes "asl", the start page becomes "home".
func taskName(p string) string {
	base := strings.TrimSuffix(path.Base(p), path.Ext(p))
	if p == "" || base == "" || base == "." || base == "/" || base == "index" {
		return "home"
	}
	return base
}
