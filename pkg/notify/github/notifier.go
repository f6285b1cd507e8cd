package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"

	"github.com/cgast/pagecheck/pkg/verify"
)

// Notification describes the issue touched by Notify.
type Notification struct {
	Number    int    `json:"number"`
	HTMLURL   string `json:"html_url"`
	Commented bool   `json:"commented"` // true when an existing open issue was updated
}

// Notifier reports failed tasks as issues in one repository. A task that
// keeps failing gets comments on its open issue instead of new issues.
type Notifier struct {
	client *Client
	owner  string
	name   string
	labels []string
}

// NewNotifier creates a notifier for repo ("owner/name").
func NewNotifier(client *Client, repo string, labels []string) (*Notifier, error) {
	owner, name, err := parseRepo(repo)
	if err != nil {
		return nil, err
	}
	return &Notifier{client: client, owner: owner, name: name, labels: labels}, nil
}

// IssueTitle is the title used for a task's failure issue.
func IssueTitle(task string) string {
	return fmt.Sprintf("pagecheck: task %q failed", task)
}

// Notify opens an issue for the failed result, or comments on the open
// issue with the same title.
func (n *Notifier) Notify(ctx context.Context, result verify.Result, verr error) (Notification, error) {
	title := IssueTitle(result.Task)
	body := IssueBody(result, verr)

	existing, err := n.findOpen(ctx, title)
	if err != nil {
		return Notification{}, err
	}

	if existing != nil {
		comment := &gh.IssueComment{Body: gh.String(body)}
		if _, _, err := n.client.inner.Issues.CreateComment(ctx, n.owner, n.name, existing.GetNumber(), comment); err != nil {
			return Notification{}, fmt.Errorf("github: comment on issue #%d: %w", existing.GetNumber(), err)
		}
		return Notification{Number: existing.GetNumber(), HTMLURL: existing.GetHTMLURL(), Commented: true}, nil
	}

	req := &gh.IssueRequest{
		Title: gh.String(title),
		Body:  gh.String(body),
	}
	if len(n.labels) > 0 {
		labels := append([]string(nil), n.labels...)
		req.Labels = &labels
	}

	issue, _, err := n.client.inner.Issues.Create(ctx, n.owner, n.name, req)
	if err != nil {
		return Notification{}, fmt.Errorf("github: create issue: %w", err)
	}
	return Notification{Number: issue.GetNumber(), HTMLURL: issue.GetHTMLURL()}, nil
}

func (n *Notifier) findOpen(ctx context.Context, title string) (*gh.Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Labels:      n.labels,
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	issues, _, err := n.client.inner.Issues.ListByRepo(ctx, n.owner, n.name, opts)
	if err != nil {
		return nil, fmt.Errorf("github: list issues: %w", err)
	}
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		if issue.GetTitle() == title {
			return issue, nil
		}
	}
	return nil, nil
}

// IssueBody renders a markdown report of a failed result.
func IssueBody(result verify.Result, verr error) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Verification of `%s` failed.\n\n", result.URL)
	if kind := verify.Kind(verr); kind != "" && kind != verify.KindMismatch {
		fmt.Fprintf(&b, "**%s**: %s\n\n", kind, verr)
	}

	if len(result.Results) > 0 {
		b.WriteString("| Expectation | Expected | Observed | Result |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, er := range result.Results {
			status := "pass"
			if !er.Passed {
				status = "**fail**"
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n",
				er.Expectation.Key(), cell(expected(er)), cell(er.Observed), status)
		}
		b.WriteString("\n")
	}

	if len(result.Screenshots) > 0 {
		b.WriteString("Screenshots:\n")
		for _, s := range result.Screenshots {
			fmt.Fprintf(&b, "- `%s`\n", s)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "_Run at %s, took %s._\n", result.StartedAt.Format("2006-01-02 15:04:05"), result.Duration.Round(time.Millisecond))
	return b.String()
}

func expected(er verify.ExpectationResult) string {
	if er.Expectation.Expected == "" {
		return "visible"
	}
	return er.Expectation.Expected
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}
