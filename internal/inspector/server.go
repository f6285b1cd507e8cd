// Package inspector serves a live view of a verification run: progress
// events streamed as Server-Sent Events, run status, recorded history and
// the screenshots written so far.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cgast/pagecheck/pkg/events"
	"github.com/cgast/pagecheck/pkg/history"
	"github.com/cgast/pagecheck/pkg/verify"
)

// HistoryLister reads recorded results. *history.Store satisfies it.
type HistoryLister interface {
	List(task string, limit int) ([]history.Record, error)
}

// Server is the inspector HTTP server.
type Server struct {
	bus         events.EventBus
	records     HistoryLister
	screenshots []string
	log         logrus.FieldLogger
	mux         *http.ServeMux
	startTime   time.Time

	clientsMu sync.Mutex
	clients   map[*client]bool
}

type client struct {
	send chan []byte
}

// Option configures a Server.
type Option func(*Server)

// WithHistory exposes recorded results under /api/history.
func WithHistory(l HistoryLister) Option {
	return func(s *Server) { s.records = l }
}

// WithScreenshotRoots serves screenshots written under any of roots. The
// first root is also browsable under /screenshots/.
func WithScreenshotRoots(roots ...string) Option {
	return func(s *Server) {
		for _, r := range roots {
			if abs, err := filepath.Abs(r); err == nil {
				s.screenshots = append(s.screenshots, abs)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// New creates an inspector for the events published on bus.
func New(bus events.EventBus, opts ...Option) *Server {
	s := &Server{
		bus:       bus,
		log:       logrus.StandardLogger(),
		mux:       http.NewServeMux(),
		startTime: time.Now(),
		clients:   make(map[*client]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/events", s.handleEvents)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/events", s.handleEventHistory)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.HandleFunc("/screenshot", s.handleScreenshot)
	if len(s.screenshots) > 0 {
		s.mux.Handle("/screenshots/", http.StripPrefix("/screenshots/", http.FileServer(http.Dir(s.screenshots[0]))))
	}
	return s
}

// Handler returns the HTTP handler without starting the event fan-out.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve listens on addr until ctx is done. The returned channel delivers
// the server's exit error; the bound address is returned for ":0" callers.
func (s *Server) Serve(ctx context.Context, addr string) (string, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("inspector listen %s: %w", addr, err)
	}

	ch := s.bus.Subscribe()
	go s.broadcast(ch)

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		// Ends open event streams on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()
	go func() {
		<-ctx.Done()
		s.bus.Unsubscribe(ch)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Debug("inspector shutdown")
		}
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("inspector listening")
	return ln.Addr().String(), errc, nil
}

func (s *Server) broadcast(ch <-chan events.Event) {
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.WithError(err).WithField("event", ev.Type).Debug("skipping unencodable event")
			continue
		}

		s.clientsMu.Lock()
		for c := range s.clients {
			select {
			case c.send <- data:
			default:
				// Slow client, drop the event.
			}
		}
		s.clientsMu.Unlock()
	}
}

// handleEvents streams the retained history followed by live events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := &client{send: make(chan []byte, 64)}
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
	}()

	for _, ev := range s.bus.History(time.Time{}) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-c.send:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// Status summarizes the run so far.
type Status struct {
	Uptime   string   `json:"uptime"`
	Events   int      `json:"events"`
	Running  string   `json:"running,omitempty"`
	Passed   []string `json:"passed"`
	Failed   []string `json:"failed"`
	Finished bool     `json:"finished"`
}

func (s *Server) status() Status {
	st := Status{Uptime: time.Since(s.startTime).Round(time.Second).String(), Passed: []string{}, Failed: []string{}}
	hist := s.bus.History(time.Time{})
	st.Events = len(hist)
	for _, ev := range hist {
		switch ev.Type {
		case events.EventTaskStart:
			st.Running = ev.Task
		case events.EventTaskEnd:
			st.Running = ""
			if res, ok := ev.Data.(verify.Result); ok && res.Passed {
				st.Passed = append(st.Passed, ev.Task)
			} else {
				st.Failed = append(st.Failed, ev.Task)
			}
		case events.EventRunEnd:
			st.Finished = true
		}
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if task := r.URL.Query().Get("task"); task != "" {
		if mb, ok := s.bus.(*events.MemoryBus); ok {
			writeJSON(w, mb.TaskHistory(task))
			return
		}
	}
	writeJSON(w, s.bus.History(time.Time{}))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeJSON(w, []history.Record{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := s.records.List(r.URL.Query().Get("task"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, records)
}

// handleScreenshot serves a screenshot by the path recorded in its
// event, as long as it lies under one of the screenshot roots.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil || !s.underRoot(abs) {
		http.Error(w, "path outside screenshot roots", http.StatusForbidden)
		return
	}
	http.ServeFile(w, r, abs)
}

func (s *Server) underRoot(path string) bool {
	for _, root := range s.screenshots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

const indexHTML = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>pagecheck inspector</title>
<style>
  body { font: 14px/1.4 ui-monospace, monospace; margin: 2em; }
  .pass { color: #1a7f37; } .fail { color: #cf222e; } .muted { color: #777; }
</style></head>
<body>
<h1>pagecheck</h1>
<ul id="log"></ul>
<script>
  const log = document.getElementById("log");
  const src = new EventSource("/events");
  src.onmessage = (m) => {
    const ev = JSON.parse(m.data);
    const li = document.createElement("li");
    let text = ev.type + (ev.task ? " " + ev.task : "");
    if (ev.type === "task.end") {
      li.className = ev.data.passed ? "pass" : "fail";
    } else if (ev.type === "expectation") {
      li.className = ev.data.passed ? "pass" : "fail";
      text += " " + ev.data.message;
    } else if (ev.type === "screenshot") {
      text += " ";
      const a = document.createElement("a");
      a.href = "/screenshot?path=" + encodeURIComponent(ev.data);
      a.textContent = ev.data;
      li.append(text, a);
      log.append(li);
      return;
    } else {
      li.className = "muted";
      if (typeof ev.data === "string") text += " " + ev.data;
    }
    li.textContent = text;
    log.append(li);
  };
</script>
</body></html>`
