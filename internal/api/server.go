// Package api serves the message inbox and the read-only views used by
// presentation layers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"navext/internal/audit"
	"navext/internal/inventory"
	"navext/internal/monitor"
	"navext/internal/risk"
	"navext/internal/store"
)

const maxBodyBytes = 1 << 20

// Submitter hands events to the monitor queue.
type Submitter interface {
	Submit(ctx context.Context, ev monitor.Event) (monitor.Result, error)
}

type Server struct {
	events Submitter
	store  *store.Store
	audit  *audit.Logger
	logger *slog.Logger
}

func New(events Submitter, st *store.Store, trail *audit.Logger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{events: events, store: st, audit: trail, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ready", s.ready)
		r.Get("/states", s.listStates)
		r.Get("/states/{id}", s.getState)
		r.Get("/communications", s.listCommunications)
		r.Get("/scan", s.scan)
		r.Get("/access", s.access)
		r.Get("/alerts", s.alerts)
		r.Post("/messages", s.postMessage)
		r.Post("/events", s.postEvent)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start).String())
	})
}

// refresh pulls in writes other navext processes made to the shared state
// root. A failed read serves the in-memory copy.
func (s *Server) refresh(r *http.Request) {
	if err := s.store.Refresh(r.Context()); err != nil {
		s.logger.Warn("state refresh failed; serving in-memory copy", "err", err)
	}
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	s.refresh(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":      true,
		"extensions": len(s.store.ListAll()),
		"persisted":  !s.store.Dirty(),
	})
}

func (s *Server) listStates(w http.ResponseWriter, r *http.Request) {
	s.refresh(r)
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	s.refresh(r)
	rec, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "extension not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listCommunications(w http.ResponseWriter, r *http.Request) {
	s.refresh(r)
	writeJSON(w, http.StatusOK, s.store.ListCommunications(r.URL.Query().Get("sender")))
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	res, err := s.events.Submit(r.Context(), monitor.Event{Kind: monitor.KindScan, Origin: "api"})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Scan)
}

// AccessMatch names an extension and the host patterns that reach a URL.
type AccessMatch struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"`
}

// access lists the stored extensions whose host permissions reach url.
func (s *Server) access(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "url is required"})
		return
	}
	s.refresh(r)
	writeJSON(w, http.StatusOK, MatchAccess(s.store.ListAll(), target))
}

// MatchAccess lists the entries whose host permissions reach target.
func MatchAccess(entries []store.StateEntry, target string) []AccessMatch {
	out := []AccessMatch{}
	for _, e := range entries {
		if m := risk.MatchingPatterns(e.Record.HostPermissions, target); len(m) > 0 {
			out = append(out, AccessMatch{ID: e.ID, Name: e.Record.Name, Patterns: m})
		}
	}
	return out
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = n
	}
	out, err := s.audit.Alerts(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []audit.Event{}
	}
	// Newest first.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	writeJSON(w, http.StatusOK, out)
}

type messageRequest struct {
	Sender    string          `json:"sender"`
	Message   json.RawMessage `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Sender) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "sender is required"})
		return
	}
	res, err := s.events.Submit(r.Context(), monitor.Event{
		Kind:      monitor.KindMessage,
		Sender:    req.Sender,
		Message:   req.Message,
		Timestamp: req.Timestamp,
		Origin:    "api",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Entry)
}

var lifecycleKinds = map[monitor.Kind]bool{
	monitor.KindInstalled:   true,
	monitor.KindUninstalled: true,
	monitor.KindEnabled:     true,
	monitor.KindAlarm:       true,
	monitor.KindRescan:      true,
}

// postEvent accepts lifecycle events pushed by a browser-side shim.
func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	var ev monitor.Event
	if !decodeBody(w, r, &ev) {
		return
	}
	if !lifecycleKinds[ev.Kind] {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported event kind"})
		return
	}
	ev.Origin = "api"
	res, err := s.events.Submit(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case inventory.IsMissingPermission(err):
		status = http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case strings.HasPrefix(err.Error(), "MON_EVENT"), strings.HasPrefix(err.Error(), "STORE_COMM_SCHEMA"):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
