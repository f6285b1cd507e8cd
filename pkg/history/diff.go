package history

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cgast/pagecheck/pkg/verify"
)

// Change types.
const (
	ChangeAdded    = "added"
	ChangeRemoved  = "removed"
	ChangeModified = "modified"
)

// Change is one difference between two records of the same task.
type Change struct {
	Key    string `json:"key"`
	Type   string `json:"type"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

func (c Change) String() string {
	switch c.Type {
	case ChangeAdded:
		return fmt.Sprintf("+ %s: %s", c.Key, c.After)
	case ChangeRemoved:
		return fmt.Sprintf("- %s: %s", c.Key, c.Before)
	default:
		return fmt.Sprintf("~ %s: %s -> %s", c.Key, c.Before, c.After)
	}
}

// Diff compares the outcomes of two records. Expectations are matched by
// their key; timing, screenshots and IDs are ignored. An empty result
// means both runs agreed on every outcome.
func Diff(a, b Record) []Change {
	var changes []Change

	if a.ErrorKind != b.ErrorKind {
		changes = append(changes, Change{
			Key:    "outcome",
			Type:   ChangeModified,
			Before: outcome(a),
			After:  outcome(b),
		})
	}

	before := outcomes(a.Result.Results)
	after := outcomes(b.Result.Results)

	for key, valA := range before {
		valB, ok := after[key]
		switch {
		case !ok:
			changes = append(changes, Change{Key: key, Type: ChangeRemoved, Before: valA})
		case valA != valB:
			changes = append(changes, Change{Key: key, Type: ChangeModified, Before: valA, After: valB})
		}
	}
	for key, valB := range after {
		if _, ok := before[key]; !ok {
			changes = append(changes, Change{Key: key, Type: ChangeAdded, After: valB})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

func outcome(r Record) string {
	if r.ErrorKind == "" {
		return "passed"
	}
	return r.ErrorKind
}

// outcomes maps expectation keys to "pass" or "fail (observed ...)".
// Repeated keys within one task get a #n suffix.
func outcomes(results []verify.ExpectationResult) map[string]string {
	m := make(map[string]string, len(results))
	seen := make(map[string]int)
	for _, er := range results {
		key := er.Expectation.Key()
		seen[key]++
		if n := seen[key]; n > 1 {
			key += "#" + strconv.Itoa(n)
		}
		if er.Passed {
			m[key] = "pass"
		} else {
			m[key] = fmt.Sprintf("fail (observed %q)", er.Observed)
		}
	}
	return m
}
