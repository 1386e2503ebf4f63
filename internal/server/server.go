// Package server exposes the Vigil HTTP API: session lifecycle, safety-event
// ingestion, image moderation, the recording webhook, a live websocket feed
// of safety events, and the operational endpoints (/metrics, /healthz,
// /readyz).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigil-video/vigil/internal/health"
	"github.com/vigil-video/vigil/internal/observe"
	"github.com/vigil-video/vigil/internal/pipeline"
	"github.com/vigil-video/vigil/pkg/moderation"
	"github.com/vigil-video/vigil/pkg/types"
)

// SessionService is the slice of the pipeline service the HTTP layer uses.
// *pipeline.Service satisfies it.
type SessionService interface {
	CreateSession(ctx context.Context) (*pipeline.SessionInfo, error)
	StartSession(ctx context.Context, sessionID, roomName string) error
	StoreSafetyEvent(ctx context.Context, event types.SafetyEvent) error
	ProcessEgressRecording(ctx context.Context, in pipeline.Input) (*types.SessionAnalysis, error)
}

// Server routes HTTP requests to the pipeline service and the moderation
// backend. Construct with New, then call Handler for the root handler.
type Server struct {
	svc        SessionService
	moderator  moderation.Moderator
	feed       *Feed
	health     *health.Handler
	metrics    *observe.Metrics
	monitoring *Monitoring

	monitorsMu sync.Mutex
	monitors   map[string]*sessionMonitor
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithHealth attaches the health handler serving /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics attaches metrics; the HTTP middleware and /metrics endpoint
// are only mounted when set.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMonitoring attaches the realtime safety-monitor providers; the
// /api/monitor routes are only mounted when set.
func WithMonitoring(m *Monitoring) Option {
	return func(s *Server) { s.monitoring = m }
}

// New creates a Server. moderator may be nil; the moderation endpoint then
// responds 503.
func New(svc SessionService, moderator moderation.Moderator, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		moderator: moderator,
		feed:      NewFeed(),
		monitors:  map[string]*sessionMonitor{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Feed returns the safety-event broadcast hub, so other emitters (the
// realtime monitor) can publish into the same stream.
func (s *Server) Feed() *Feed { return s.feed }

// Handler builds the root http.Handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/session/create", s.handleCreateSession)
	mux.HandleFunc("POST /api/session/start", s.handleStartSession)
	mux.HandleFunc("POST /api/safety/detect-moderation", s.handleDetectModeration)
	mux.HandleFunc("POST /api/safety-event", s.handleSafetyEvent)
	mux.HandleFunc("POST /api/recording/webhook", s.handleRecordingWebhook)
	mux.HandleFunc("GET /api/events/feed", s.feed.Serve)

	if s.monitoring != nil {
		mux.HandleFunc("POST /api/monitor/start", s.handleMonitorStart)
		mux.HandleFunc("POST /api/monitor/frame", s.handleMonitorFrame)
		mux.HandleFunc("POST /api/monitor/audio", s.handleMonitorAudio)
		mux.HandleFunc("POST /api/monitor/stop", s.handleMonitorStop)
	}

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.CreateSession(r.Context())
	if err != nil {
		slog.Error("create session failed", "err", err)
		http.Error(w, "create session failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		RoomName  string `json:"roomName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid session start request", http.StatusBadRequest)
		return
	}
	if err := s.svc.StartSession(r.Context(), req.SessionID, req.RoomName); err != nil {
		slog.Error("start session failed", "session_id", req.SessionID, "err", err)
		http.Error(w, "start session failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": req.SessionID})
}

func (s *Server) handleDetectModeration(w http.ResponseWriter, r *http.Request) {
	if s.moderator == nil {
		http.Error(w, "moderation backend not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	image, err := moderation.DecodeDataURL(req.Image)
	if err != nil {
		if errors.Is(err, moderation.ErrNotImageDataURL) {
			http.Error(w, "image must be a base64 image data URL", http.StatusBadRequest)
			return
		}
		http.Error(w, "invalid image payload", http.StatusBadRequest)
		return
	}

	flags, err := s.moderator.Moderate(r.Context(), image)
	if err != nil {
		slog.Error("image moderation failed", "err", err)
		http.Error(w, "moderation failed", http.StatusBadGateway)
		return
	}
	if flags == nil {
		flags = []types.SafetyFlag{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags})
}

func (s *Server) handleSafetyEvent(w http.ResponseWriter, r *http.Request) {
	var event types.SafetyEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid safety event", http.StatusBadRequest)
		return
	}
	if err := s.svc.StoreSafetyEvent(r.Context(), event); err != nil {
		if errors.Is(err, pipeline.ErrNoFiredFlags) {
			http.Error(w, "safety event must contain a fired flag", http.StatusBadRequest)
			return
		}
		slog.Error("store safety event failed", "session_id", event.SessionID, "err", err)
		http.Error(w, "store safety event failed", http.StatusInternalServerError)
		return
	}
	s.feed.Broadcast(event)
	w.WriteHeader(http.StatusAccepted)
}

// handleRecordingWebhook accepts the recording orchestrator's completion
// notice and kicks off the analysis pipeline in the background. The webhook
// sender only needs the receipt, not the result.
func (s *Server) handleRecordingWebhook(w http.ResponseWriter, r *http.Request) {
	var in pipeline.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.SessionID == "" {
		http.Error(w, "invalid webhook payload", http.StatusBadRequest)
		return
	}

	go func() {
		ctx := context.WithoutCancel(r.Context())
		if _, err := s.svc.ProcessEgressRecording(ctx, in); err != nil {
			slog.Error("recording analysis failed",
				"session_id", in.SessionID, "err", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}
