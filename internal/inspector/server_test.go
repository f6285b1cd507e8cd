package inspector

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cgast/pagecheck/pkg/events"
	"github.com/cgast/pagecheck/pkg/history"
	"github.com/cgast/pagecheck/pkg/verify"
)

type fakeHistory struct {
	records []history.Record
	err     error
	task    string
	limit   int
}

func (f *fakeHistory) List(task string, limit int) ([]history.Record, error) {
	f.task, f.limit = task, limit
	return f.records, f.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func publishRun(bus *events.MemoryBus) {
	bus.Publish(events.NewEvent(events.EventRunStart, "", 3))
	bus.Publish(events.NewEvent(events.EventTaskStart, "layout", "http://localhost:8000"))
	bus.Publish(events.NewEvent(events.EventTaskEnd, "layout", verify.Result{Task: "layout", Passed: true}))
	bus.Publish(events.NewEvent(events.EventTaskStart, "verify", "http://localhost:8000"))
	bus.Publish(events.NewEvent(events.EventTaskEnd, "verify", verify.Result{Task: "verify"}))
	bus.Publish(events.NewEvent(events.EventTaskStart, "design", "http://localhost:8000"))
}

func TestStatus(t *testing.T) {
	bus := events.NewMemoryBus(0)
	publishRun(bus)

	srv := httptest.NewServer(New(bus, WithLogger(quietLogger())).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Events != 6 {
		t.Errorf("Events = %d, want 6", st.Events)
	}
	if st.Running != "design" {
		t.Errorf("Running = %q, want design", st.Running)
	}
	if strings.Join(st.Passed, ",") != "layout" || strings.Join(st.Failed, ",") != "verify" {
		t.Errorf("Passed = %v, Failed = %v", st.Passed, st.Failed)
	}
	if st.Finished {
		t.Error("run should not be finished")
	}
}

func TestEventHistoryByTask(t *testing.T) {
	bus := events.NewMemoryBus(0)
	publishRun(bus)

	srv := httptest.NewServer(New(bus).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events?task=layout")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var evs []events.Event
	if err := json.NewDecoder(resp.Body).Decode(&evs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if evs[0].Type != events.EventTaskStart || evs[1].Type != events.EventTaskEnd {
		t.Errorf("types = %s, %s", evs[0].Type, evs[1].Type)
	}
}

func TestHistory(t *testing.T) {
	bus := events.NewMemoryBus(0)
	fh := &fakeHistory{records: []history.Record{{ID: "a", Result: verify.Result{Task: "layout"}}}}

	srv := httptest.NewServer(New(bus, WithHistory(fh)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/history?task=layout&limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var records []history.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].ID != "a" {
		t.Errorf("records = %+v", records)
	}
	if fh.task != "layout" || fh.limit != 5 {
		t.Errorf("List called with (%q, %d)", fh.task, fh.limit)
	}

	resp2, err := http.Get(srv.URL + "/api/history?limit=x")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp2.StatusCode)
	}

	fh.err = errors.New("db closed")
	resp3, err := http.Get(srv.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusInternalServerError {
		t.Errorf("failing store status = %d, want 500", resp3.StatusCode)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	srv := httptest.NewServer(New(events.NewMemoryBus(0)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestScreenshots(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "pages"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"home.png", filepath.Join("pages", "projects.png")} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("\x89PNG"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	outside := filepath.Join(t.TempDir(), "secret.png")
	if err := os.WriteFile(outside, []byte("\x89PNG"), 0644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(New(events.NewMemoryBus(0), WithScreenshotRoots(dir)).Handler())
	defer srv.Close()

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"browse root", "/screenshots/home.png", http.StatusOK},
		{"recorded path", "/screenshot?path=" + url.QueryEscape(filepath.Join(dir, "home.png")), http.StatusOK},
		{"subdirectory", "/screenshot?path=" + url.QueryEscape(filepath.Join(dir, "pages", "projects.png")), http.StatusOK},
		{"outside roots", "/screenshot?path=" + url.QueryEscape(outside), http.StatusForbidden},
		{"dot-dot escape", "/screenshot?path=" + url.QueryEscape(dir + "/../" + filepath.Base(filepath.Dir(outside)) + "/secret.png"), http.StatusForbidden},
		{"missing path", "/screenshot", http.StatusBadRequest},
		{"not written yet", "/screenshot?path=" + url.QueryEscape(filepath.Join(dir, "later.png")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.url)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("GET %s status = %d, want %d", tt.url, resp.StatusCode, tt.want)
			}
		})
	}
}

func TestIndexLinksRecordedScreenshotPath(t *testing.T) {
	srv := httptest.NewServer(New(events.NewMemoryBus(0)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"/screenshot?path=" + encodeURIComponent(ev.data)`) {
		t.Error("index should link screenshots by their recorded path")
	}
}

func TestServeStreamsEvents(t *testing.T) {
	bus := events.NewMemoryBus(0)
	bus.Publish(events.NewEvent(events.EventRunStart, "", 1))

	ctx, cancel := context.WithCancel(context.Background())
	addr, errc, err := New(bus, WithLogger(quietLogger())).Serve(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				lines <- data
			}
		}
		close(lines)
	}()

	next := func() events.Event {
		t.Helper()
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			var ev events.Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				t.Fatalf("decode %q: %v", line, err)
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
		return events.Event{}
	}

	if ev := next(); ev.Type != events.EventRunStart {
		t.Errorf("first event = %s, want retained run.start", ev.Type)
	}

	// The client registers before the retained history is flushed, so a
	// live event published now reaches it.
	bus.Publish(events.NewEvent(events.EventTaskStart, "layout", "http://localhost:8000"))
	if ev := next(); ev.Type != events.EventTaskStart || ev.Task != "layout" {
		t.Errorf("live event = %s %s", ev.Type, ev.Task)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("serve error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
