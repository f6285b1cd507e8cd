package verify

import (
	"time"

	"github.com/cgast/pagecheck/pkg/task"
)

// ExpectationResult records the outcome of a single expectation.
type ExpectationResult struct {
	Expectation task.Expectation `json:"expectation"`
	Observed    string           `json:"observed"`
	Passed      bool             `json:"passed"`
	Message     string           `json:"message"`
}

// Result holds the outcome of one task.
type Result struct {
	Task        string              `json:"task"`
	URL         string              `json:"url"`
	Passed      bool                `json:"passed"`
	Results     []ExpectationResult `json:"results"`
	Screenshots []string            `json:"screenshots,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	Duration    time.Duration       `json:"duration"`
}

// Failed returns the expectations that did not pass.
func (r Result) Failed() []ExpectationResult {
	var failed []ExpectationResult
	for _, er := range r.Results {
		if !er.Passed {
			failed = append(failed, er)
		}
	}
	return failed
}
