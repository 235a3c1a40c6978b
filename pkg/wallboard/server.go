package wallboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/call"
	"github.com/loreste/callwatch/pkg/errors"
	"github.com/loreste/callwatch/pkg/metrics"
	"github.com/loreste/callwatch/pkg/rollup"
	"github.com/loreste/callwatch/pkg/storage"
)

// SessionCounter reports how many call sessions are currently open.
type SessionCounter interface {
	ActiveSessions() int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr string
}

// Server exposes the supervisor API: health, metrics, the live wallboard
// websocket, flagged-call review endpoints, and the aggregate sentiment
// rollup.
type Server struct {
	logger     *logrus.Entry
	config     ServerConfig
	hub        *Hub
	store      storage.Store
	roll       *rollup.Rollup
	sessions   SessionCounter
	httpServer *http.Server
}

// NewServer wires the HTTP surface together.
func NewServer(logger *logrus.Logger, config ServerConfig, hub *Hub, store storage.Store, roll *rollup.Rollup, sessions SessionCounter) *Server {
	s := &Server{
		logger:   logger.WithField("component", "http_server"),
		config:   config,
		hub:      hub,
		store:    store,
		roll:     roll,
		sessions: sessions,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/v1/flagged", s.flaggedHandler)
	mux.HandleFunc("/api/v1/flagged/", s.flaggedItemHandler)
	mux.HandleFunc("/api/v1/sentiment", s.sentimentHandler)
	mux.HandleFunc("/api/v1/sentiment/history", s.sentimentHistoryHandler)

	s.httpServer = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Start serves HTTP in a background goroutine.
func (s *Server) Start() {
	s.logger.WithField("addr", s.config.ListenAddr).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"active_sessions":   s.sessions.ActiveSessions(),
		"wallboard_clients": s.hub.ClientCount(),
		"timestamp":         time.Now(),
	})
}

// flaggedHandler lists flagged calls. Query parameters: severity, type,
// reviewed, since (RFC 3339), limit.
func (s *Server) flaggedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	filter := storage.FlaggedCallFilter{
		Severity: call.Severity(q.Get("severity")),
		Type:     call.FlagType(q.Get("type")),
	}
	if v := q.Get("reviewed"); v != "" {
		reviewed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid reviewed parameter")
			return
		}
		filter.Reviewed = &reviewed
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = limit
	}

	flagged, err := s.store.ListFlaggedCalls(filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"flagged_calls": flagged,
		"count":         len(flagged),
	})
}

// flaggedItemHandler serves GET /api/v1/flagged/{id} and
// POST /api/v1/flagged/{id}/review.
func (s *Server) flaggedItemHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/flagged/")

	if id, ok := strings.CutSuffix(rest, "/review"); ok {
		s.reviewHandler(w, r, id)
		return
	}

	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	fc, err := s.store.GetFlaggedCall(rest)
	if err != nil {
		if errors.IsErrorType(err, errors.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "flagged call not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, fc)
}

func (s *Server) reviewHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Reviewer string `json:"reviewer"`
		Notes    string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Reviewer == "" {
		s.writeError(w, http.StatusBadRequest, "reviewer is required")
		return
	}

	if err := s.store.MarkReviewed(id, body.Reviewer, body.Notes); err != nil {
		switch {
		case errors.IsErrorType(err, errors.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "flagged call not found")
		case errors.IsErrorType(err, errors.ErrAlreadyReviewed):
			s.writeError(w, http.StatusConflict, "flagged call already reviewed")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reviewed"})
}

func (s *Server) sentimentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.roll.Current())
}

func (s *Server) sentimentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": s.roll.History(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
