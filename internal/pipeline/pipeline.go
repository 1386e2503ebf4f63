// Package pipeline orchestrates the post-recording analysis of a session:
// download the composite recording, extract audio, run the transcription,
// quality, and engagement analyzers, submit the results to the LLM judge, and
// persist every artifact under the session's object-store prefix.
//
// Analyzer failures are absorbed at step granularity; only infrastructure
// failures (object store, database, audio extraction) abort a run. A partially
// failed run still writes analysis.json and marks the session ended.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-video/vigil/internal/analyzer"
	"github.com/vigil-video/vigil/internal/observe"
	"github.com/vigil-video/vigil/pkg/judge"
	"github.com/vigil-video/vigil/pkg/transcribe"
	"github.com/vigil-video/vigil/pkg/types"
)

// judgeFailureNote is written into engagement.modelNotes when the LLM judge
// fails and the derived metrics are kept as-is.
const judgeFailureNote = "Gemini analysis failed; used derived metrics only."

// ErrNoFiredFlags rejects a safety event in which no flag actually fired.
// Events are emitted per violation, never as all-clear heartbeats.
var ErrNoFiredFlags = errors.New("pipeline: safety event has no fired flag")

// ArtifactStore is the slice of the object store the pipeline uses.
// *objectstore.Store satisfies it.
type ArtifactStore interface {
	DownloadToFile(ctx context.Context, key, localPath string) error
	UploadFile(ctx context.Context, key, localPath, contentType string) error
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PutJSON(ctx context.Context, key string, value any) error
}

// Ledger is the slice of the bookkeeping store the pipeline uses.
// *bookkeeping.Store satisfies it.
type Ledger interface {
	EnsureSchema(ctx context.Context) error
	InsertSession(ctx context.Context, sessionID, roomName string) error
	UpdateSessionEnd(ctx context.Context, sessionID, egressID string) error
	InsertSessionEvent(ctx context.Context, sessionID, eventType string, payload any) error
}

// Media is the slice of the transcoder the pipeline uses. *media.Transcoder
// satisfies it.
type Media interface {
	analyzer.MediaProber
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
}

// Input identifies the finalized recording to process. FileLocation takes
// precedence over FileName for key derivation; EgressID is recorded on the
// session row when present.
type Input struct {
	SessionID    string `json:"sessionId"`
	RoomName     string `json:"roomName"`
	EgressID     string `json:"egressId,omitempty"`
	FileLocation string `json:"fileLocation,omitempty"`
	FileName     string `json:"fileName,omitempty"`
}

// SessionInfo is returned by CreateSession.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	RoomName  string `json:"roomName"`
}

// Service wires the analyzers, stores, and providers into the inbound
// operations. Safe for concurrent use; concurrent ProcessEgressRecording
// calls for different sessions are independent.
type Service struct {
	artifacts ArtifactStore
	ledger    Ledger
	media     Media
	stt       transcribe.Transcriber
	judge     judge.Judge
	metrics   *observe.Metrics
	tmpDir    string
	now       func() time.Time
}

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithTempDir overrides the directory for temporary recording downloads.
// Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(s *Service) { s.tmpDir = dir }
}

// WithMetrics attaches a metrics instance for stage timing. When unset, no
// metrics are recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(artifacts ArtifactStore, ledger Ledger, med Media, stt transcribe.Transcriber, j judge.Judge, opts ...Option) *Service {
	s := &Service{
		artifacts: artifacts,
		ledger:    ledger,
		media:     med,
		stt:       stt,
		judge:     j,
		tmpDir:    os.TempDir(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateSession generates a fresh session id and room name, inserts the
// session row, and returns both.
func (s *Service) CreateSession(ctx context.Context) (*SessionInfo, error) {
	id := uuid.NewString()
	info := &SessionInfo{
		SessionID: id,
		RoomName:  "room-" + id[:8],
	}
	if err := s.StartSession(ctx, info.SessionID, info.RoomName); err != nil {
		return nil, err
	}
	return info, nil
}

// StartSession records a new active session. Safe to retry; a duplicate id is
// a no-op.
func (s *Service) StartSession(ctx context.Context, sessionID, roomName string) error {
	if sessionID == "" {
		return fmt.Errorf("pipeline: session id must not be empty")
	}
	if err := s.ledger.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := s.ledger.InsertSession(ctx, sessionID, roomName); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session started", "session_id", sessionID, "room", roomName)
	return nil
}

// StoreSafetyEvent persists a realtime safety event: one object under
// sessions/{id}/safety/ keyed by the event timestamp, plus a bookkeeping
// event row.
func (s *Service) StoreSafetyEvent(ctx context.Context, event types.SafetyEvent) error {
	if event.SessionID == "" {
		return fmt.Errorf("pipeline: safety event session id must not be empty")
	}
	if len(event.Flags) == 0 {
		return fmt.Errorf("pipeline: safety event must carry at least one flag")
	}
	if !event.Fired() {
		return ErrNoFiredFlags
	}
	if event.Timestamp == "" {
		event.Timestamp = s.now().UTC().Format(time.RFC3339)
	}
	if event.Source == "" {
		event.Source = types.SourceRealtime
	}

	key := fmt.Sprintf("sessions/%s/safety/%s.json", event.SessionID, event.Timestamp)
	if err := s.artifacts.PutJSON(ctx, key, event); err != nil {
		return err
	}
	if err := s.ledger.InsertSessionEvent(ctx, event.SessionID, "safety", event); err != nil {
		return err
	}

	if s.metrics != nil {
		for _, f := range event.Flags {
			if f.Flagged {
				s.metrics.RecordSafetyFlag(ctx, string(f.Kind), string(event.Source))
			}
		}
	}
	slog.Info("safety event stored",
		"session_id", event.SessionID, "flags", len(event.Flags), "key", key)
	return nil
}

// DeriveObjectKey resolves the object-store key of a finalized recording.
// An s3:// URI yields everything after the bucket segment; an amazonaws.com
// HTTPS URL yields its path without the leading slash; anything else falls
// back to fileName. Empty result means the input was unusable.
func DeriveObjectKey(fileLocation, fileName string) string {
	if rest, ok := strings.CutPrefix(fileLocation, "s3://"); ok {
		if _, key, found := strings.Cut(rest, "/"); found {
			return key
		}
		return ""
	}
	if strings.HasPrefix(fileLocation, "https://") || strings.HasPrefix(fileLocation, "http://") {
		_, rest, _ := strings.Cut(fileLocation, "://")
		host, path, found := strings.Cut(rest, "/")
		if found && strings.HasSuffix(host, ".amazonaws.com") {
			return path
		}
	}
	return fileName
}

// ProcessEgressRecording runs the full analysis for one finalized recording.
// The returned aggregate mirrors what was written to
// sessions/{id}/analysis.json.
func (s *Service) ProcessEgressRecording(ctx context.Context, in Input) (*types.SessionAnalysis, error) {
	log := slog.With("session_id", in.SessionID, "room", in.RoomName)
	start := s.now()

	if err := s.ledger.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	key := DeriveObjectKey(in.FileLocation, in.FileName)
	if key == "" {
		return nil, fmt.Errorf("pipeline: cannot derive object key from location %q and name %q",
			in.FileLocation, in.FileName)
	}

	videoPath := filepath.Join(s.tmpDir, in.SessionID+"-"+filepath.Base(key))
	audioPath := filepath.Join(s.tmpDir, in.SessionID+"-audio.wav")
	defer func() {
		// Best effort; leftover temp files are harmless.
		os.Remove(videoPath)
		os.Remove(audioPath)
	}()

	if err := s.timed(ctx, "download", func() error {
		return s.artifacts.DownloadToFile(ctx, key, videoPath)
	}); err != nil {
		return nil, err
	}
	if err := s.timed(ctx, "extract_audio", func() error {
		return s.media.ExtractAudio(ctx, videoPath, audioPath)
	}); err != nil {
		return nil, err
	}

	analysis := &types.SessionAnalysis{
		SessionID: in.SessionID,
		RoomName:  in.RoomName,
		EgressID:  in.EgressID,
		Recording: types.RecordingRef{
			SourceKey:      key,
			LocalVideoPath: videoPath,
			LocalAudioPath: audioPath,
		},
	}

	// Analyzer steps are isolated; each failure nulls its own artifact.
	err := s.timed(ctx, "transcribe", func() error {
		t, err := s.stt.Transcribe(ctx, audioPath)
		analysis.Transcript = t
		return err
	})
	if err != nil {
		log.Warn("transcription failed, continuing without transcript", "err", err)
		analysis.Transcript = nil
		s.providerError(ctx, "huggingface", "stt")
	}

	err = s.timed(ctx, "quality", func() error {
		q, err := analyzer.ComputeQuality(ctx, s.media, videoPath)
		analysis.Quality = q
		return err
	})
	if err != nil {
		log.Warn("quality probe failed, continuing without quality metrics", "err", err)
		analysis.Quality = nil
		s.providerError(ctx, "ffmpeg", "quality")
	}

	analysis.Engagement = analyzer.ComputeEngagement(analysis.Transcript)

	err = s.timed(ctx, "judge", func() error {
		verdict, err := s.judge.Analyze(ctx, judge.Input{
			Transcript: analysis.Transcript,
			Quality:    analysis.Quality,
			Engagement: analysis.Engagement,
		})
		if err != nil {
			return err
		}
		verdict.Engagement.Apply(analysis.Engagement)
		verdict.Quality.Apply(analysis.Quality)
		if analysis.Engagement != nil && verdict.Notes != "" {
			analysis.Engagement.ModelNotes = verdict.Notes
		}
		analysis.CombinedScore = verdict.CombinedScore
		return nil
	})
	if err != nil {
		log.Warn("judge failed, keeping derived metrics", "err", err)
		analysis.CombinedScore = nil
		if analysis.Engagement != nil {
			analysis.Engagement.ModelNotes = judgeFailureNote
		}
		s.providerError(ctx, "gemini", "judge")
	}

	if err := s.uploadArtifacts(ctx, analysis); err != nil {
		return nil, err
	}

	if err := s.ledger.InsertSessionEvent(ctx, in.SessionID, "analysis", analysis); err != nil {
		return nil, err
	}
	if err := s.ledger.UpdateSessionEnd(ctx, in.SessionID, in.EgressID); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, -1)
		s.metrics.PipelineDuration.Record(ctx, s.now().Sub(start).Seconds())
	}

	log.Info("analysis complete",
		"transcript", analysis.Transcript != nil,
		"quality", analysis.Quality != nil,
		"combined_score", analysis.CombinedScore != nil,
		"duration", s.now().Sub(start))
	return analysis, nil
}

// uploadArtifacts writes every artifact under sessions/{id}/. analysis.json
// is unconditional; the rest depend on which analyzers succeeded.
func (s *Service) uploadArtifacts(ctx context.Context, a *types.SessionAnalysis) error {
	prefix := "sessions/" + a.SessionID + "/"

	if err := s.artifacts.UploadFile(ctx, prefix+"recording.mp4", a.Recording.LocalVideoPath, "video/mp4"); err != nil {
		return err
	}
	if err := s.artifacts.UploadFile(ctx, prefix+"audio.wav", a.Recording.LocalAudioPath, "audio/wav"); err != nil {
		return err
	}

	if a.Transcript != nil {
		if err := s.artifacts.PutJSON(ctx, prefix+"transcript.json", a.Transcript); err != nil {
			return err
		}
		if err := s.artifacts.Put(ctx, prefix+"transcript.txt", []byte(a.Transcript.Text), "text/plain; charset=utf-8"); err != nil {
			return err
		}
	}
	if a.Quality != nil {
		if err := s.artifacts.PutJSON(ctx, prefix+"quality.json", a.Quality); err != nil {
			return err
		}
	}
	if a.Engagement != nil {
		if err := s.artifacts.PutJSON(ctx, prefix+"engagement.json", a.Engagement); err != nil {
			return err
		}
	}
	if a.CombinedScore != nil {
		notes := ""
		if a.Engagement != nil {
			notes = a.Engagement.ModelNotes
		}
		payload := map[string]any{"combinedScore": *a.CombinedScore, "notes": notes}
		if err := s.artifacts.PutJSON(ctx, prefix+"combined-score.json", payload); err != nil {
			return err
		}
	}

	return s.artifacts.PutJSON(ctx, prefix+"analysis.json", a)
}

// timed runs fn and records its duration under the given stage name.
func (s *Service) timed(ctx context.Context, stage string, fn func() error) error {
	start := s.now()
	err := fn()
	if s.metrics != nil {
		s.metrics.RecordStage(ctx, stage, s.now().Sub(start).Seconds(), err)
	}
	return err
}

// providerError bumps the provider error counter when metrics are attached.
func (s *Service) providerError(ctx context.Context, provider, kind string) {
	if s.metrics != nil {
		s.metrics.RecordProviderError(ctx, provider, kind)
	}
}
