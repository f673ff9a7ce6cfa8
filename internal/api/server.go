package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oldmanpar/Pings/internal/config"
	"github.com/oldmanpar/Pings/internal/export"
	"github.com/oldmanpar/Pings/internal/monitor"
	"github.com/oldmanpar/Pings/internal/trace"
)

// Server exposes the core's command set and pollable snapshots over HTTP,
// plus a websocket stream of live updates. It is the only presentation
// boundary; it never touches core state directly, only snapshots.
type Server struct {
	httpServer *http.Server
	session    *monitor.Session
	tracer     *trace.Orchestrator
	hub        *Hub
	cfg        *config.Config
	roster     []monitor.TargetSpec
}

// New wires the HTTP surface. roster is the default target set used when a
// start command names no targets of its own.
func New(cfg *config.Config, session *monitor.Session, tracer *trace.Orchestrator, hub *Hub, roster []monitor.TargetSpec) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{Addr: cfg.Listen, Handler: mux},
		session:    session,
		tracer:     tracer,
		hub:        hub,
		cfg:        cfg,
		roster:     roster,
	}
	s.registerRoutes(mux)
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/monitor/start", s.handleStart)
	mux.HandleFunc("/api/monitor/stop", s.handleStop)
	mux.HandleFunc("/api/monitor/reset", s.handleReset)
	mux.HandleFunc("/api/trace/select", s.handleTraceSelect)
	mux.HandleFunc("/api/trace/start", s.handleTraceStart)
	mux.HandleFunc("/api/trace/stop", s.handleTraceStop)
	mux.HandleFunc("/api/trace/transcripts", s.handleTranscripts)
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/ws", s.hub.HandleWS)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":         s.session.State().String(),
		"trace_running": s.tracer.Running(),
		"targets":       s.session.Targets(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if field, ok := sortFields[r.URL.Query().Get("sort")]; ok {
		s.session.Events().SortBy(field)
	}
	writeJSON(w, http.StatusOK, s.session.Events().Snapshot())
}

var sortFields = map[string]monitor.SortField{
	"address":   monitor.SortByAddress,
	"host":      monitor.SortByHost,
	"downstart": monitor.SortByDownStart,
	"recovery":  monitor.SortByRecovery,
	"failures":  monitor.SortByFailureCount,
	"duration":  monitor.SortByDuration,
}

type startRequest struct {
	Targets    []monitor.TargetSpec `json:"targets,omitempty"`
	IntervalMs int                  `json:"interval_ms,omitempty"`
	TimeoutMs  int                  `json:"timeout_ms,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	specs := req.Targets
	if len(specs) == 0 {
		specs = s.roster
	}
	interval := msOrDefault(req.IntervalMs, s.cfg.Monitor.IntervalMs)
	timeout := msOrDefault(req.TimeoutMs, s.cfg.Monitor.TimeoutMs)

	err := s.session.Start(context.Background(), specs, interval, timeout)
	switch {
	case errors.Is(err, monitor.ErrNoTargets):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, monitor.ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"state": s.session.State().String()})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.session.State().String()})
}

type resetRequest struct {
	Address string `json:"address,omitempty"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req resetRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		s.session.ResetAll()
	} else if err := s.session.ResetTarget(req.Address); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type traceSelectRequest struct {
	Address  string `json:"address"`
	Selected bool   `json:"selected"`
}

func (s *Server) handleTraceSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req traceSelectRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.session.SetTraceSelected(req.Address, req.Selected); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type traceStartRequest struct {
	Addresses []string `json:"addresses,omitempty"`
	TimeoutMs int      `json:"timeout_ms,omitempty"`
}

func (s *Server) handleTraceStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req traceStartRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	addrs := req.Addresses
	if len(addrs) == 0 {
		addrs = s.session.TraceSelected()
	}
	timeout := msOrDefault(req.TimeoutMs, s.cfg.Monitor.TimeoutMs)

	ctx := context.Background()
	if s.cfg.Trace.LinkToMonitor {
		// Linked trace runs die with the monitoring session.
		ctx = s.session.Context()
	}
	err := s.tracer.Start(ctx, addrs, timeout)
	switch {
	case errors.Is(err, trace.ErrNoAddresses):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, trace.ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"addresses": addrs})
	}
}

func (s *Server) handleTraceStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.tracer.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTranscripts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracer.Transcripts())
}

type exportRequest struct {
	Path string `json:"path,omitempty"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req exportRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	path := req.Path
	if path == "" {
		path = filepath.Join(s.cfg.Export.Directory,
			"pings_"+time.Now().Format("20060102_150405")+".csv")
	}

	if err := export.SaveReport(path, s.session.Targets(), s.session.Events().Snapshot()); err != nil {
		log.Error().Err(err).Msg("report export failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := export.SaveTranscripts(filepath.Dir(path), s.tracer.Transcripts()); err != nil {
		log.Error().Err(err).Msg("transcript export failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func msOrDefault(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}
