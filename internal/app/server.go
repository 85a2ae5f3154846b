package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evandegr/oratio/internal/config"
	"github.com/evandegr/oratio/internal/health"
	"github.com/evandegr/oratio/internal/observe"
	"github.com/evandegr/oratio/pkg/audio/opusstream"
	"github.com/evandegr/oratio/pkg/audio/telephony"
	"github.com/evandegr/oratio/pkg/suggest"
)

// maxBodyBytes bounds control-plane request bodies.
const maxBodyBytes = 1 << 16

// Server is the HTTP surface: media-stream endpoints for the gateways and
// the authenticated suggestion control plane for supervisors.
type Server struct {
	mgr *Manager
	cfg *config.Config
	met *observe.Metrics
	log *slog.Logger
}

// NewServer builds the HTTP surface around mgr.
func NewServer(mgr *Manager, cfg *config.Config, met *observe.Metrics, log *slog.Logger) *Server {
	if met == nil {
		met = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{mgr: mgr, cfg: cfg, met: met, log: log}
}

// Handler returns the root handler with all routes registered and the
// observability middleware applied.
func (s *Server) Handler() (http.Handler, error) {
	telSrv, err := telephony.NewServer(s.handleMediaStream, telephony.WithLogger(s.log))
	if err != nil {
		return nil, err
	}
	opusSrv, err := opusstream.NewServer(s.handleOpusStream, opusstream.WithLogger(s.log))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s.health().Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Media-stream endpoints. The telephony gateway authenticates at the
	// signaling layer, not per WebSocket.
	mux.Handle("GET /v1/streams/telephony", telSrv)
	mux.Handle("GET /v1/streams/opus", opusSrv)

	// Supervisor control plane.
	mux.Handle("GET /v1/conversations", s.auth(http.HandlerFunc(s.handleList)))
	mux.Handle("POST /v1/conversations/{id}/suggestions", s.auth(http.HandlerFunc(s.handleSuggest)))
	mux.Handle("POST /v1/conversations/{id}/say", s.auth(http.HandlerFunc(s.handleSay)))
	mux.Handle("DELETE /v1/conversations/{id}", s.auth(http.HandlerFunc(s.handleStop)))

	return observe.Middleware(s.met)(mux), nil
}

func (s *Server) handleMediaStream(stream *telephony.Stream) {
	if _, err := s.mgr.Start(context.Background(), stream); err != nil {
		s.log.Error("telephony conversation failed to start", "error", err)
		_ = stream.Close()
	}
}

func (s *Server) handleOpusStream(stream *opusstream.Stream) {
	if _, err := s.mgr.Start(context.Background(), stream); err != nil {
		s.log.Error("opus conversation failed to start", "error", err)
		_ = stream.Close()
	}
}

// auth enforces the configured bearer token. An unset token rejects every
// request rather than leaving the control plane open.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Server.AuthToken
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !ok ||
			subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// health builds the liveness/readiness handler. Liveness reports the active
// conversation count and compute capability; readiness fails once the
// manager starts draining or the loaded model no longer validates.
func (s *Server) health() *health.Handler {
	info := func() map[string]any {
		return map[string]any{
			"conversations": s.mgr.Active(),
			"capability":    s.mgr.Capability().String(),
		}
	}
	return health.New(info,
		health.Checker{Name: "model", Check: func(context.Context) error {
			return s.mgr.backend.Describe().Validate()
		}},
		health.Checker{Name: "manager", Check: s.mgr.Ready},
	)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.List())
}

// suggestRequest is the suggestion POST body.
type suggestRequest struct {
	Text     string `json:"text"`
	Priority int    `json:"priority"`
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	err := s.mgr.Suggest(r.Context(), r.PathValue("id"), suggest.Suggestion{
		Text:      req.Text,
		Priority:  req.Priority,
		Timestamp: time.Now().UTC(),
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, suggest.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "suggestion queue full, retry later")
	case errors.Is(err, suggest.ErrClosed):
		writeError(w, http.StatusConflict, "conversation no longer accepts suggestions")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// sayRequest is the scripted-utterance POST body.
type sayRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	var req sayRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	err := s.mgr.Say(r.PathValue("id"), req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	err := s.mgr.Stop(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// readJSON decodes the request body into v, writing a 400 and returning
// false on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return false
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
