package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/streaks/internal/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is reported by /health.
var Version = "dev"

// Server provides the HTTP API for streaks.
type Server struct {
	service *Service
	db      Pinger
	peer    http.Handler
	addr    string
	log     *slog.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server. db may be nil.
func NewServer(service *Service, db Pinger, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		service: service,
		db:      db,
		addr:    addr,
		log:     log.With("component", "http"),
	}
}

// SetPeerHandler mounts the peer websocket endpoint at /peer/ws.
func (s *Server) SetPeerHandler(h http.Handler) {
	s.peer = h
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Timer endpoints
	mux.HandleFunc("/timers", s.handleTimers)
	mux.HandleFunc("/timers/", s.handleTimerByTitle)

	// Sync
	mux.HandleFunc("/sync/status", s.handleSyncStatus)
	if s.peer != nil {
		mux.Handle("/peer/ws", s.peer)
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("starting streaks daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			health.OK = false
			health.DB = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, health)
}

// handleTimers handles POST /timers and GET /timers
func (s *Server) handleTimers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTimer(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.service.ListTimers())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTimerByTitle handles /timers/{title}/*. Titles are path-escaped.
func (s *Server) handleTimerByTitle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/timers/")
	parts := strings.Split(path, "/")

	title, err := url.PathUnescape(parts[0])
	if err != nil || title == "" {
		http.Error(w, "timer title required", http.StatusBadRequest)
		return
	}
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.GetTimer(title))
	case action == "" && r.Method == http.MethodDelete:
		if err := s.service.DeleteTimer(title); err != nil {
			s.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "reset" && r.Method == http.MethodPost:
		s.resetTimer(w, r, title)
	case action == "resume" && r.Method == http.MethodPost:
		s.respond(w, http.StatusOK)(s.service.ResumeTimer(title))
	case action == "rename" && r.Method == http.MethodPost:
		s.renameTimer(w, r, title)
	case action == "rules" && r.Method == http.MethodPut:
		s.setRules(w, r, title)
	case action == "history" && len(parts) == 4 && parts[3] == "reason" && r.Method == http.MethodPut:
		s.updateReason(w, r, title, parts[2])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := s.service.SyncStatus()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- Timer Handlers ---

type createTimerRequest struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
}

func (s *Server) createTimer(w http.ResponseWriter, r *http.Request) {
	var req createTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.respond(w, http.StatusCreated)(s.service.CreateTimer(req.Title, req.Start))
}

type resetRequest struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
	Pause  bool      `json:"pause"`
}

func (s *Server) resetTimer(w http.ResponseWriter, r *http.Request, title string) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.respond(w, http.StatusOK)(s.service.ResetTimer(title, req.Reason, req.At, req.Pause))
}

type renameRequest struct {
	Title string `json:"title"`
}

func (s *Server) renameTimer(w http.ResponseWriter, r *http.Request, title string) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.respond(w, http.StatusOK)(s.service.RenameTimer(title, req.Title))
}

type rulesRequest struct {
	Rules string `json:"rules"`
}

func (s *Server) setRules(w http.ResponseWriter, r *http.Request, title string) {
	var req rulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.respond(w, http.StatusOK)(s.service.SetRules(title, req.Rules))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) updateReason(w http.ResponseWriter, r *http.Request, title, rawIndex string) {
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		http.Error(w, "history index must be an integer", http.StatusBadRequest)
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.respond(w, http.StatusOK)(s.service.UpdateResetReason(title, index, req.Reason))
}

// respond writes a service result with the given success status.
func (s *Server) respond(w http.ResponseWriter, status int) func(*models.TimerView, error) {
	return func(v *models.TimerView, err error) {
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, status, v)
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrTitleExists):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidTitle), errors.Is(err, ErrReservedTitle), errors.Is(err, ErrBadIndex):
		status = http.StatusBadRequest
	case errors.Is(err, ErrSyncDisabled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
