package task

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadTaskList reads a YAML task file and returns the parsed TaskList.
// Template variables like {{base_url}} and {{date}} are interpolated
// using the provided params (or the defaults declared in the file), and
// list defaults are applied to every task.
func LoadTaskList(path string, params map[string]string) (TaskList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TaskList{}, fmt.Errorf("read task file %s: %w", path, err)
	}

	return ParseTaskList(data, params)
}

// ParseTaskList parses YAML data into a TaskList with variable interpolation.
func ParseTaskList(data []byte, params map[string]string) (TaskList, error) {
	// First pass: only the param defaults are needed.
	var raw struct {
		Params []ParamDef `yaml:"params"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return TaskList{}, fmt.Errorf("parse task file: %w", err)
	}

	vars := buildVarMap(raw.Params, params)
	interpolated := interpolateVars(string(data), vars)

	var list TaskList
	if err := yaml.Unmarshal([]byte(interpolated), &list); err != nil {
		return TaskList{}, fmt.Errorf("parse interpolated task file: %w", err)
	}

	list.applyDefaults()
	return list, nil
}

func (l *TaskList) applyDefaults() {
	for i := range l.Tasks {
		t := &l.Tasks[i]
		if t.BaseURL == "" {
			t.BaseURL = l.Defaults.BaseURL
		}
		if t.Viewport.IsZero() {
			t.Viewport = l.Defaults.Viewport
		}
	}
}

// Select returns the tasks whose names are listed. An empty list selects
// everything. Unknown names are an error.
func (l TaskList) Select(names []string) ([]Task, error) {
	if len(names) == 0 {
		return l.Tasks, nil
	}

	byName := make(map[string]Task, len(l.Tasks))
	for _, t := range l.Tasks {
		byName[t.Name] = t
	}

	selected := make([]Task, 0, len(names))
	for _, n := range names {
		t, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown task %q", n)
		}
		selected = append(selected, t)
	}
	return selected, nil
}

// buildVarMap creates a variable map from param defaults and runtime overrides.
// Built-in variables like {{date}} are always available.
func buildVarMap(paramDefs []ParamDef, overrides map[string]string) map[string]string {
	vars := make(map[string]string)

	now := time.Now()
	vars["date"] = now.Format("2006-01-02")
	vars["datetime"] = now.Format("2006-01-02T15:04:05")

	for _, p := range paramDefs {
		if p.Default != nil {
			vars[p.Name] = fmt.Sprintf("%v", p.Default)
		}
	}

	for k, v := range overrides {
		vars[k] = v
	}

	return vars
}

// templatePattern matches {{var_name}} patterns.
var templatePattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

func interpolateVars(s string, vars map[string]string) string {
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}}"), "{{")
		if val, ok := vars[varName]; ok {
			return val
		}
		return match
	})
}
