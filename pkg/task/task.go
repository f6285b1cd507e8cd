package task

import (
	"strings"
	"time"
)

// Document identification for task files.
const (
	APIVersion   = "pagecheck/v1"
	KindTaskList = "TaskList"
)

// Action types.
const (
	ActionClick       = "click"
	ActionWait        = "wait"
	ActionSettle      = "settle"
	ActionWaitVisible = "wait_visible"
	ActionNavigate    = "navigate"
	ActionScreenshot  = "screenshot"
)

// Expectation types.
const (
	ExpectVisibility = "visibility"
	ExpectCSS        = "css"
	ExpectTitle      = "title"
)

// TaskList is the top-level document of a task file.
type TaskList struct {
	APIVersion string     `yaml:"apiVersion" json:"apiVersion"`
	Kind       string     `yaml:"kind" json:"kind"`
	Params     []ParamDef `yaml:"params,omitempty" json:"params,omitempty"`
	Defaults   Defaults   `yaml:"defaults" json:"defaults"`
	Tasks      []Task     `yaml:"tasks" json:"tasks"`
}

// ParamDef declares a {{name}} variable and its default value.
type ParamDef struct {
	Name        string `yaml:"name" json:"name"`
	Default     any    `yaml:"default,omitempty" json:"default"`
	Description string `yaml:"description,omitempty" json:"description"`
}

// Defaults are applied to every task that leaves the field unset.
type Defaults struct {
	BaseURL  string   `yaml:"base_url,omitempty" json:"base_url"`
	Viewport Viewport `yaml:"viewport,omitempty" json:"viewport"`
}

// Viewport is the browser window size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// IsZero reports whether no size was configured.
func (v Viewport) IsZero() bool {
	return v.Width == 0 && v.Height == 0
}

// Task is one page verification: where to go, what to do there, what must
// hold afterwards and where the screenshot goes.
type Task struct {
	Name       string        `yaml:"name" json:"name"`
	BaseURL    string        `yaml:"base_url,omitempty" json:"base_url"`
	Page       string        `yaml:"page,omitempty" json:"page,omitempty"`
	Viewport   Viewport      `yaml:"viewport,omitempty" json:"viewport"`
	Path       []Action      `yaml:"path,omitempty" json:"path,omitempty"`
	Expect     []Expectation `yaml:"expect,omitempty" json:"expect,omitempty"`
	Screenshot string        `yaml:"screenshot" json:"screenshot"`
	FailFast   *bool         `yaml:"fail_fast,omitempty" json:"fail_fast,omitempty"`
}

// URL returns the address the task navigates to first.
func (t Task) URL() string {
	return JoinURL(t.BaseURL, t.Page)
}

// Action is a single in-page step.
type Action struct {
	Type     string        `yaml:"type" json:"type"`
	Selector string        `yaml:"selector,omitempty" json:"selector,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Page     string        `yaml:"page,omitempty" json:"page,omitempty"`
	Path     string        `yaml:"path,omitempty" json:"path,omitempty"`
}

// String renders the action for logs.
func (a Action) String() string {
	switch a.Type {
	case ActionClick, ActionWaitVisible:
		return a.Type + " " + a.Selector
	case ActionWait:
		return a.Type + " " + a.Duration.String()
	case ActionNavigate:
		return a.Type + " " + a.Page
	case ActionScreenshot:
		return a.Type + " " + a.Path
	default:
		return a.Type
	}
}

// Expectation is a machine-checkable condition on the page state.
type Expectation struct {
	Type     string `yaml:"type" json:"type"`
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Property string `yaml:"property,omitempty" json:"property,omitempty"`
	Expected string `yaml:"expected,omitempty" json:"expected,omitempty"`
	Message  string `yaml:"message,omitempty" json:"message,omitempty"`
}

// Key identifies an expectation within a task, used to line up results
// from different runs.
func (e Expectation) Key() string {
	switch e.Type {
	case ExpectCSS:
		return e.Type + ":" + e.Selector + ":" + e.Property
	case ExpectTitle:
		return e.Type
	default:
		return e.Type + ":" + e.Selector
	}
}

// JoinURL appends page to base with exactly one slash between them.
// Fragment-only pages ("#projects") are appended verbatim.
func JoinURL(base, page string) string {
	if page == "" {
		return base
	}
	if strings.HasPrefix(page, "http://") || strings.HasPrefix(page, "https://") {
		return page
	}
	if strings.HasPrefix(page, "#") || strings.HasPrefix(page, "?") {
		return base + page
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(page, "/")
}
