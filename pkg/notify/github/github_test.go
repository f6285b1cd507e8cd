package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cgast/pagecheck/pkg/task"
	"github.com/cgast/pagecheck/pkg/verify"
)

func TestParseRepo(t *testing.T) {
	tests := []struct {
		name      string
		repo      string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{name: "owner and name", repo: "cgast/portfolio", wantOwner: "cgast", wantName: "portfolio"},
		{name: "empty string", repo: "", wantErr: true},
		{name: "no slash", repo: "just-a-name", wantErr: true},
		{name: "missing name", repo: "cgast/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, name, err := parseRepo(tt.repo)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got owner=%q name=%q", owner, name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if owner != tt.wantOwner {
				t.Errorf("owner = %q, want %q", owner, tt.wantOwner)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
		})
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Error("expected error for empty token")
	}
}

// fakeAPI serves the issue endpoints the notifier uses.
type fakeAPI struct {
	mu       sync.Mutex
	open     []map[string]any
	created  []map[string]any
	comments []string
	auth     string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/cgast/portfolio/issues", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = r.Header.Get("Authorization")

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(f.open)
		case http.MethodPost:
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			f.created = append(f.created, req)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"number":   12,
				"title":    req["title"],
				"html_url": "https://github.com/cgast/portfolio/issues/12",
			})
		}
	})
	mux.HandleFunc("/repos/cgast/portfolio/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		body, _ := req["body"].(string)
		f.comments = append(f.comments, body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 1, "body": body})
	})
	return mux
}

func newTestNotifier(t *testing.T, api *fakeAPI) *Notifier {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	client, err := NewClient("test-token")
	if err != nil {
		t.Fatal(err)
	}
	if err := client.SetBaseURL(srv.URL); err != nil {
		t.Fatal(err)
	}
	n, err := NewNotifier(client, "cgast/portfolio", []string{"pagecheck"})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func failedResult() verify.Result {
	return verify.Result{
		Task: "layout",
		URL:  "http://localhost:8000",
		Results: []verify.ExpectationResult{
			{Expectation: task.Expectation{Type: task.ExpectVisibility, Selector: ".hero"}, Observed: "visible", Passed: true},
			{
				Expectation: task.Expectation{Type: task.ExpectCSS, Selector: ".nav", Property: "position", Expected: "sticky"},
				Observed:    "static",
				Message:     `expected position of .nav to be "sticky", got "static"`,
			},
		},
		Screenshots: []string{"verification/homepage_fixed.png"},
	}
}

func TestNotifyCreatesIssue(t *testing.T) {
	api := &fakeAPI{}
	n := newTestNotifier(t, api)

	note, err := n.Notify(context.Background(), failedResult(), &verify.AssertionMismatch{Task: "layout"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if note.Number != 12 || note.Commented {
		t.Errorf("unexpected notification %+v", note)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.auth != "Bearer test-token" {
		t.Errorf("Authorization = %q", api.auth)
	}
	if len(api.created) != 1 {
		t.Fatalf("created %d issues, want 1", len(api.created))
	}
	req := api.created[0]
	if req["title"] != IssueTitle("layout") {
		t.Errorf("title = %v", req["title"])
	}
	labels, _ := req["labels"].([]any)
	if len(labels) != 1 || labels[0] != "pagecheck" {
		t.Errorf("labels = %v", req["labels"])
	}
	body, _ := req["body"].(string)
	if !strings.Contains(body, "| `css:.nav:position` | sticky | static | **fail** |") {
		t.Errorf("body missing failure row:\n%s", body)
	}
}

func TestNotifyCommentsOnOpenIssue(t *testing.T) {
	api := &fakeAPI{open: []map[string]any{
		{"number": 3, "title": IssueTitle("layout"), "pull_request": map[string]any{"url": "x"}},
		{"number": 7, "title": IssueTitle("layout"), "html_url": "https://github.com/cgast/portfolio/issues/7"},
	}}
	n := newTestNotifier(t, api)

	note, err := n.Notify(context.Background(), failedResult(), nil)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if note.Number != 7 || !note.Commented {
		t.Errorf("unexpected notification %+v", note)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.created) != 0 {
		t.Errorf("expected no new issue, created %d", len(api.created))
	}
	if len(api.comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(api.comments))
	}
}

func TestIssueBody(t *testing.T) {
	result := verify.Result{Task: "deepfake", URL: "http://localhost:8000/projects/deepfake.html"}
	err := &verify.NavigationError{URL: result.URL, Err: errors.New("connection refused")}

	body := IssueBody(result, err)
	if !strings.Contains(body, "Verification of `http://localhost:8000/projects/deepfake.html` failed.") {
		t.Errorf("body missing URL:\n%s", body)
	}
	if !strings.Contains(body, "**navigation**: navigate to") {
		t.Errorf("body missing error kind:\n%s", body)
	}
	if strings.Contains(body, "| Expectation |") {
		t.Error("no table expected without results")
	}
}

func TestCellEscapesPipes(t *testing.T) {
	if got := cell("a|b"); got != `a\|b` {
		t.Errorf("cell = %q", got)
	}
	if got := cell(""); got != "-" {
		t.Errorf("cell(\"\") = %q", got)
	}
}
