package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vigil-video/vigil/internal/monitor"
	"github.com/vigil-video/vigil/internal/observe"
	"github.com/vigil-video/vigil/pkg/liveness"
	"github.com/vigil-video/vigil/pkg/moderation"
	"github.com/vigil-video/vigil/pkg/types"
)

// audioChunkBuffer bounds the per-session queue of posted PCM chunks. A
// producer that outruns the voice worker loses chunks rather than blocking
// the ingest handler.
const audioChunkBuffer = 16

// Monitoring holds the providers and settings for server-managed safety
// monitors. Attach with WithMonitoring to enable the /api/monitor routes.
type Monitoring struct {
	Face  liveness.FaceAnalyzer
	Voice liveness.VoiceClassifier

	// Interval between monitor ticks. Zero means the monitor default.
	Interval time.Duration

	// Metrics records tick timing and skips. May be nil.
	Metrics *observe.Metrics
}

// sessionMonitor ties one running monitor to its ingest endpoints.
type sessionMonitor struct {
	mon    *monitor.Monitor
	frames *monitor.FrameBuffer
	audio  chan []float32
}

// storeAndBroadcast persists monitor events through the pipeline service and
// fans them out to the websocket feed.
type storeAndBroadcast struct {
	svc  SessionService
	feed *Feed
}

func (s storeAndBroadcast) StoreSafetyEvent(ctx context.Context, event types.SafetyEvent) error {
	if err := s.svc.StoreSafetyEvent(ctx, event); err != nil {
		return err
	}
	s.feed.Broadcast(event)
	return nil
}

// handleMonitorStart spins up a safety monitor for an active session. The
// client then streams frames and PCM chunks to the ingest routes.
func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid monitor start request", http.StatusBadRequest)
		return
	}

	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	if _, running := s.monitors[req.SessionID]; running {
		http.Error(w, "monitor already running for session", http.StatusConflict)
		return
	}

	frames := monitor.NewFrameBuffer()
	audio := make(chan []float32, audioChunkBuffer)
	sessionID := req.SessionID

	mon, err := monitor.Start(context.Background(), monitor.Options{
		SessionID:  sessionID,
		Frames:     frames,
		Audio:      audio,
		Interval:   s.monitoring.Interval,
		Moderation: s.moderator,
		Face:       s.monitoring.Face,
		Voice:      s.monitoring.Voice,
		Sink:       storeAndBroadcast{svc: s.svc, feed: s.feed},
		Metrics:    s.monitoring.Metrics,
		OnWarning: func(message string) {
			slog.Warn("session warned", "session_id", sessionID, "message", message)
		},
		OnKick: func(reason string) {
			slog.Warn("session kicked", "session_id", sessionID, "reason", reason)
			go s.stopMonitor(sessionID)
		},
	})
	if err != nil {
		slog.Error("monitor start failed", "session_id", sessionID, "err", err)
		http.Error(w, "monitor start failed", http.StatusInternalServerError)
		return
	}

	s.monitors[sessionID] = &sessionMonitor{mon: mon, frames: frames, audio: audio}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID})
}

// handleMonitorFrame ingests the latest camera frame as a base64 image data
// URL. Frames replace each other; only the newest is moderated.
func (s *Server) handleMonitorFrame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Image     string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid frame payload", http.StatusBadRequest)
		return
	}

	sm := s.lookupMonitor(req.SessionID)
	if sm == nil {
		http.Error(w, "no monitor running for session", http.StatusNotFound)
		return
	}

	frame, err := moderation.DecodeDataURL(req.Image)
	if err != nil {
		if errors.Is(err, moderation.ErrNotImageDataURL) {
			http.Error(w, "image must be a base64 image data URL", http.StatusBadRequest)
			return
		}
		http.Error(w, "invalid image payload", http.StatusBadRequest)
		return
	}

	sm.frames.Set(frame)
	w.WriteHeader(http.StatusAccepted)
}

// handleMonitorAudio ingests a chunk of Float32 PCM at 16 kHz mono. Chunks
// that arrive faster than the voice worker consumes them are dropped.
func (s *Server) handleMonitorAudio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string    `json:"sessionId"`
		Samples   []float32 `json:"samples"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid audio payload", http.StatusBadRequest)
		return
	}

	sm := s.lookupMonitor(req.SessionID)
	if sm == nil {
		http.Error(w, "no monitor running for session", http.StatusNotFound)
		return
	}

	select {
	case sm.audio <- req.Samples:
	default:
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleMonitorStop tears the session's monitor down.
func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid monitor stop request", http.StatusBadRequest)
		return
	}
	if !s.stopMonitor(req.SessionID) {
		http.Error(w, "no monitor running for session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) lookupMonitor(sessionID string) *sessionMonitor {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	return s.monitors[sessionID]
}

// stopMonitor removes the session's monitor from the registry and stops it.
// Reports whether a monitor was running.
func (s *Server) stopMonitor(sessionID string) bool {
	s.monitorsMu.Lock()
	sm := s.monitors[sessionID]
	delete(s.monitors, sessionID)
	s.monitorsMu.Unlock()

	if sm == nil {
		return false
	}
	sm.mon.Stop()
	return true
}

// StopMonitors stops every running monitor. Called on server shutdown.
func (s *Server) StopMonitors() {
	s.monitorsMu.Lock()
	active := make([]*sessionMonitor, 0, len(s.monitors))
	for id, sm := range s.monitors {
		active = append(active, sm)
		delete(s.monitors, id)
	}
	s.monitorsMu.Unlock()

	for _, sm := range active {
		sm.mon.Stop()
	}
}

// RunningMonitors returns the number of active session monitors.
func (s *Server) RunningMonitors() int {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	return len(s.monitors)
}
