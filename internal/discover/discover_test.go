package discover

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/cgast/pagecheck/pkg/task"
)

const indexHTML = `<!DOCTYPE html>
<html><head><title>Portfolio</title></head>
<body>
  <nav>
    <a href="#projects">Projects</a>
    <a href="#contact">Contact</a>
    <a href="#projects">Projects again</a>
  </nav>
  <a href="projects/deepfake.html">Deepfake</a>
  <a href="/projects/asl.html#top">ASL</a>
  <a href="projects/missing.html">Broken</a>
  <a href="https://github.com/cgast">GitHub</a>
  <a href="mailto:me@example.com">Mail</a>
  <a href="cv.pdf">CV</a>
</body></html>`

const deepfakeHTML = `<html><head><title>
    Adversarially Robust   Deepfake Detection
</title></head><body><a href="../index.html">Home</a><a href="asl.html">ASL</a></body></html>`

const aslHTML = `<html><head><title>ASL Recognition</title></head><body></body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, body)
		}
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		serve(indexHTML)(w, r)
	})
	mux.HandleFunc("/index.html", serve(indexHTML))
	mux.HandleFunc("/projects/deepfake.html", serve(deepfakeHTML))
	mux.HandleFunc("/projects/asl.html", serve(aslHTML))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestCrawl(t *testing.T) {
	srv := newSite(t)

	pages, err := New(WithLogger(quietLogger())).Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	byPath := make(map[string]Page)
	for _, p := range pages {
		byPath[p.Path] = p
	}

	home, ok := byPath[""]
	if !ok {
		t.Fatalf("start page missing from %v", pages)
	}
	if home.Title != "Portfolio" {
		t.Errorf("home title = %q", home.Title)
	}
	if got := strings.Join(home.Anchors, ","); got != "#projects,#contact" {
		t.Errorf("anchors = %q, want #projects,#contact", got)
	}

	deepfake, ok := byPath["projects/deepfake.html"]
	if !ok {
		t.Fatalf("deepfake page missing, got paths %v", paths(pages))
	}
	if deepfake.Title != "Adversarially Robust Deepfake Detection" {
		t.Errorf("deepfake title = %q", deepfake.Title)
	}
	if _, ok := byPath["projects/asl.html"]; !ok {
		t.Errorf("asl page missing, got paths %v", paths(pages))
	}
	if _, ok := byPath["projects/missing.html"]; ok {
		t.Error("broken link should be skipped")
	}
	for _, p := range pages {
		if !strings.HasPrefix(p.URL, srv.URL) {
			t.Errorf("crawled off-site page %s", p.URL)
		}
	}
	// index.html is reached from deepfake.html and counted once.
	if len(pages) != 4 {
		t.Errorf("crawled %d pages %v, want 4", len(pages), paths(pages))
	}
}

func TestCrawlMaxPages(t *testing.T) {
	srv := newSite(t)

	pages, err := New(WithMaxPages(2), WithLogger(quietLogger())).Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("crawled %d pages, want 2", len(pages))
	}
}

func TestCrawlStartFailure(t *testing.T) {
	srv := newSite(t)

	if _, err := New(WithLogger(quietLogger())).Crawl(context.Background(), srv.URL+"/nope.html"); err == nil {
		t.Error("expected error when the start page fails")
	}
	if _, err := New().Crawl(context.Background(), "/relative"); err == nil {
		t.Error("expected error for a relative start url")
	}
}

func TestBuildTaskListRoundTrip(t *testing.T) {
	pages := []Page{
		{URL: "http://localhost:8000", Path: "", Title: "Portfolio", Anchors: []string{"#projects", "#contact"}},
		{URL: "http://localhost:8000/projects/deepfake.html", Path: "projects/deepfake.html", Title: "Adversarially Robust Deepfake Detection"},
		{URL: "http://localhost:8000/index.html", Path: "index.html", Title: "Portfolio"},
	}

	tl, err := BuildTaskList("http://localhost:8000", pages, "verification")
	if err != nil {
		t.Fatalf("BuildTaskList: %v", err)
	}

	var names []string
	for _, tk := range tl.Tasks {
		names = append(names, tk.Name)
	}
	if got := strings.Join(names, ","); got != "home,deepfake,home-2,sections" {
		t.Errorf("task names = %s", got)
	}

	sections := tl.Tasks[3]
	if sections.Screenshot != "verification/sections-contact.png" {
		t.Errorf("sections screenshot = %q", sections.Screenshot)
	}
	if len(sections.Path) != 5 {
		t.Fatalf("sections path = %v", sections.Path)
	}
	if sections.Path[0].Selector != "a[href='#projects']" || sections.Path[2].Path != "verification/sections-projects.png" {
		t.Errorf("unexpected sections path %+v", sections.Path)
	}

	data, err := Marshal(tl, "http://localhost:8000")
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Generated by pagecheck init") {
		t.Errorf("missing header:\n%s", data)
	}

	parsed, err := task.ParseTaskList(data, nil)
	if err != nil {
		t.Fatalf("generated file does not parse: %v\n%s", err, data)
	}
	if vr := task.ValidateTaskList(parsed); !vr.Valid() {
		t.Fatalf("generated file is invalid: %v\n%s", vr.Error(), data)
	}
	if got := parsed.Tasks[1].URL(); got != "http://localhost:8000/projects/deepfake.html" {
		t.Errorf("deepfake URL = %q", got)
	}
	if got := parsed.Tasks[1].Expect[0].Expected; got != "Adversarially Robust Deepfake Detection" {
		t.Errorf("deepfake expected title = %q", got)
	}
}

func TestBaseOf(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:8000", "http://localhost:8000"},
		{"http://localhost:8000/", "http://localhost:8000"},
		{"http://localhost:8000/index.html", "http://localhost:8000"},
		{"http://localhost:8000/site/index.html?x=1#top", "http://localhost:8000/site"},
	}
	for _, tt := range tests {
		got, err := baseOf(tt.in)
		if err != nil {
			t.Fatalf("baseOf(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("baseOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTaskName(t *testing.T) {
	tests := map[string]string{
		"":                       "home",
		"index.html":             "home",
		"projects/churn.html":    "churn",
		"projects/deepfake.html": "deepfake",
		"about/":                 "about",
	}
	for in, want := range tests {
		if got := taskName(in); got != want {
			t.Errorf("taskName(%q) = %q, want %q", in, got, want)
		}
	}
}

func paths(pages []Page) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.Path
	}
	return out
}
