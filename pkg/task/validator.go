package task

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds all validation errors for a task list.
type ValidationResult struct {
	Errors []ValidationError
}

// Valid returns true if no validation errors were found.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Error returns a combined error message from all validation errors.
func (r ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

func (r *ValidationResult) add(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateTaskList checks a TaskList for required fields and structural
// correctness. Defaults must already be applied (LoadTaskList does that).
func ValidateTaskList(list TaskList) ValidationResult {
	var result ValidationResult

	if list.APIVersion == "" {
		result.add("apiVersion", "required")
	} else if list.APIVersion != APIVersion {
		result.add("apiVersion", "unsupported version %q (expected pagecheck/v1)", list.APIVersion)
	}

	if list.Kind == "" {
		result.add("kind", "required")
	} else if list.Kind != KindTaskList {
		result.add("kind", "unsupported kind %q (expected TaskList)", list.Kind)
	}

	if len(list.Tasks) == 0 {
		result.add("tasks", "at least one task is required")
	}

	names := make(map[string]bool)
	screenshots := make(map[string]string)
	claim := func(field, path, task string) {
		if other, ok := screenshots[path]; ok {
			result.add(field, "path %q already used by task %q", path, other)
			return
		}
		screenshots[path] = task
	}
	for i, t := range list.Tasks {
		prefix := fmt.Sprintf("tasks[%d]", i)

		switch {
		case t.Name == "":
			result.add(prefix+".name", "required")
		case names[t.Name]:
			result.add(prefix+".name", "duplicate task name %q", t.Name)
		default:
			names[t.Name] = true
		}

		validateTask(&result, prefix, t)

		// Path screenshots are taken before the final one.
		for j, a := range t.Path {
			if a.Type == ActionScreenshot && a.Path != "" {
				claim(fmt.Sprintf("%s.path[%d].path", prefix, j), a.Path, t.Name)
			}
		}
		if t.Screenshot != "" {
			claim(prefix+".screenshot", t.Screenshot, t.Name)
		}
	}

	paramNames := make(map[string]bool)
	for i, p := range list.Params {
		field := fmt.Sprintf("params[%d].name", i)
		switch {
		case p.Name == "":
			result.add(field, "required")
		case paramNames[p.Name]:
			result.add(field, "duplicate param name %q", p.Name)
		default:
			paramNames[p.Name] = true
		}
	}

	return result
}

func validateTask(result *ValidationResult, prefix string, t Task) {
	if t.BaseURL == "" {
		result.add(prefix+".base_url", "required (set it on the task or in defaults)")
	} else if u, err := url.Parse(t.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		result.add(prefix+".base_url", "invalid URL %q", t.BaseURL)
	} else if templatePattern.MatchString(t.BaseURL) {
		result.add(prefix+".base_url", "unresolved variable in %q", t.BaseURL)
	}

	if t.Screenshot == "" {
		result.add(prefix+".screenshot", "required")
	}

	if t.Viewport.Width < 0 || t.Viewport.Height < 0 {
		result.add(prefix+".viewport", "width and height must not be negative")
	}

	for i, a := range t.Path {
		validateAction(result, fmt.Sprintf("%s.path[%d]", prefix, i), a)
	}
	for i, e := range t.Expect {
		validateExpectation(result, fmt.Sprintf("%s.expect[%d]", prefix, i), e)
	}
}

func validateAction(result *ValidationResult, field string, a Action) {
	switch a.Type {
	case "":
		result.add(field+".type", "required")
	case ActionClick, ActionWaitVisible:
		if strings.TrimSpace(a.Selector) == "" {
			result.add(field+".selector", "required for %s", a.Type)
		}
	case ActionWait:
		if a.Duration <= 0 {
			result.add(field+".duration", "must be positive")
		}
	case ActionSettle:
		if a.Timeout < 0 {
			result.add(field+".timeout", "must not be negative")
		}
	case ActionNavigate:
		if a.Page == "" {
			result.add(field+".page", "required for navigate")
		}
	case ActionScreenshot:
		if a.Path == "" {
			result.add(field+".path", "required for screenshot")
		}
	default:
		result.add(field+".type", "unknown action type %q", a.Type)
	}
}

func validateExpectation(result *ValidationResult, field string, e Expectation) {
	switch e.Type {
	case "":
		result.add(field+".type", "required")
	case ExpectVisibility:
		if strings.TrimSpace(e.Selector) == "" {
			result.add(field+".selector", "required for visibility")
		}
	case ExpectCSS:
		if strings.TrimSpace(e.Selector) == "" {
			result.add(field+".selector", "required for css")
		}
		if e.Property == "" {
			result.add(field+".property", "required for css")
		}
		if e.Expected == "" {
			result.add(field+".expected", "required for css")
		}
	case ExpectTitle:
		if e.Expected == "" {
			result.add(field+".expected", "required for title")
		}
	default:
		result.add(field+".type", "unknown expectation type %q", e.Type)
	}
}
