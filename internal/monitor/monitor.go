// Package monitor implements the realtime safety supervisor for a live
// session: a periodic tick that moderates the current camera frame, feeds the
// face and voice liveness workers, and escalates sustained liveness
// violations through warning and kick callbacks.
//
// The browser original runs this loop on the page; here it runs server-side
// against a frame source and a PCM stream, with the same timing semantics:
// one tick every interval, at most one tick in flight, warnings after 10
// seconds of sustained violation, kicks after 20.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vigil-video/vigil/internal/observe"
	"github.com/vigil-video/vigil/pkg/liveness"
	"github.com/vigil-video/vigil/pkg/moderation"
	"github.com/vigil-video/vigil/pkg/types"
)

const (
	// defaultInterval between ticks.
	defaultInterval = 2 * time.Second

	// voiceWindowSamples is one classification window: 2 s at 16 kHz.
	voiceWindowSamples = 32000

	faceWarnMsg     = "No live face detected for more than 10 seconds."
	faceKickReason  = "face liveness violation sustained for over 20s"
	voiceWarnMsg    = "Voice does not appear to be live for more than 10 seconds."
	voiceKickReason = "voice liveness violation sustained for over 20s"
)

// ErrFrameUnavailable signals that the frame source has no current frame; the
// tick is skipped without error.
var ErrFrameUnavailable = errors.New("monitor: frame unavailable")

// FrameSource supplies the latest camera frame as encoded JPEG bytes.
// Implementations return ErrFrameUnavailable when no frame is ready yet.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
}

// EventSink persists emitted safety events. *pipeline.Service satisfies it.
type EventSink interface {
	StoreSafetyEvent(ctx context.Context, event types.SafetyEvent) error
}

// Options configures a Monitor. SessionID, Frames, Face, and Voice are
// required; everything else has a usable default.
type Options struct {
	SessionID string

	// Frames is polled once per tick.
	Frames FrameSource

	// Audio streams Float32 PCM at 16 kHz mono. May be nil when the
	// session has no audio track; voice liveness then stays at its initial
	// live score.
	Audio <-chan []float32

	// Interval between ticks. Default 2 s.
	Interval time.Duration

	// Moderation classifies the tick's frame. May be nil to skip image
	// moderation.
	Moderation moderation.Moderator

	Face  liveness.FaceAnalyzer
	Voice liveness.VoiceClassifier

	// Sink receives every emitted safety event. May be nil.
	Sink EventSink

	// OnFlag is invoked with the tick's flag list whenever at least one
	// flag fired. May be nil.
	OnFlag func(flags []types.SafetyFlag)

	// OnWarning is invoked once per violation episode when a modality has
	// been sub-threshold for more than 10 s. May be nil.
	OnWarning func(message string)

	// OnKick is invoked once per violation episode when a modality has
	// been sub-threshold for more than 20 s. May be nil.
	OnKick func(reason string)

	// Metrics records tick timing and skips. May be nil.
	Metrics *observe.Metrics

	// now overrides the clock in tests.
	now func() time.Time
}

// Monitor is one running safety supervisor. Create with Start, dispose with
// Stop.
type Monitor struct {
	opts   Options
	cancel context.CancelFunc
	group  *errgroup.Group

	// running enforces at-most-one tick in flight; overlapping intervals
	// are skipped, not queued.
	running atomic.Bool
	ticks   sync.WaitGroup

	frames chan []byte

	mu         sync.Mutex
	faceScore  float64
	faceSeen   bool
	voiceScore float64
	face       violation
	voice      violation
}

// Start validates opts, spawns the face and voice workers, and begins
// ticking. The returned monitor runs until Stop is called or ctx is
// cancelled.
func Start(ctx context.Context, opts Options) (*Monitor, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("monitor: session id is required")
	}
	if opts.Frames == nil {
		return nil, fmt.Errorf("monitor: frame source is required")
	}
	if opts.Face == nil || opts.Voice == nil {
		return nil, fmt.Errorf("monitor: face and voice analyzers are required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)

	m := &Monitor{
		opts:   opts,
		cancel: cancel,
		group:  group,
		frames: make(chan []byte, 1),

		// Face starts untrusted until the first worker result; voice
		// starts live so silence before any audio cannot violate.
		faceScore:  0,
		voiceScore: 1,
		face:       violation{kind: types.FlagFaceLiveness, warnMsg: faceWarnMsg, kickReason: faceKickReason},
		voice:      violation{kind: types.FlagVoiceLiveness, warnMsg: voiceWarnMsg, kickReason: voiceKickReason},
	}

	if opts.Metrics != nil {
		opts.Metrics.ActiveMonitors.Add(ctx, 1)
	}

	group.Go(func() error { return m.faceWorker(ctx) })
	group.Go(func() error { return m.voiceWorker(ctx) })
	group.Go(func() error { return m.tickLoop(ctx) })

	slog.Info("safety monitor started",
		"session_id", opts.SessionID, "interval", opts.Interval)
	return m, nil
}

// Stop tears the monitor down: the tick loop and both workers exit, and any
// in-flight worker result is discarded.
func (m *Monitor) Stop() {
	m.cancel()
	m.group.Wait()
	m.ticks.Wait()
	if m.opts.Metrics != nil {
		m.opts.Metrics.ActiveMonitors.Add(context.Background(), -1)
	}
	slog.Info("safety monitor stopped", "session_id", m.opts.SessionID)
}

// tickLoop fires the tick on every interval, skipping intervals that land
// while a previous tick is still running.
func (m *Monitor) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !m.running.CompareAndSwap(false, true) {
				if m.opts.Metrics != nil {
					m.opts.Metrics.MonitorTicksSkipped.Add(ctx, 1)
				}
				continue
			}
			m.ticks.Add(1)
			go func() {
				defer m.ticks.Done()
				defer m.running.Store(false)
				m.tick(ctx)
			}()
		}
	}
}

// tick is one pass of the supervisor: moderate the frame, feed the face
// worker, evaluate both violation machines, and emit an event when anything
// fired.
func (m *Monitor) tick(ctx context.Context) {
	start := m.opts.now()
	defer func() {
		if m.opts.Metrics != nil {
			m.opts.Metrics.MonitorTickDuration.Record(ctx, m.opts.now().Sub(start).Seconds())
		}
	}()

	frame, err := m.opts.Frames.Frame(ctx)
	if err != nil {
		if !errors.Is(err, ErrFrameUnavailable) {
			slog.Debug("frame grab failed", "session_id", m.opts.SessionID, "err", err)
		}
		return
	}

	var flags []types.SafetyFlag

	if m.opts.Moderation != nil {
		modFlags, err := m.opts.Moderation.Moderate(ctx, frame)
		if err != nil {
			// Moderation outages must not break the liveness path.
			slog.Warn("image moderation failed", "session_id", m.opts.SessionID, "err", err)
		} else {
			flags = append(flags, modFlags...)
		}
	}

	// Hand the frame to the face worker unless it is still busy with the
	// previous one.
	select {
	case m.frames <- frame:
	default:
	}

	now := m.opts.now()
	m.mu.Lock()
	faceScore, voiceScore := m.faceScore, m.voiceScore
	faceOut := m.face.observe(faceScore, now)
	voiceOut := m.voice.observe(voiceScore, now)
	m.mu.Unlock()

	for _, out := range []struct {
		tickOutcome
		v *violation
	}{{faceOut, &m.face}, {voiceOut, &m.voice}} {
		if out.kicked {
			slog.Warn("liveness violation kick",
				"session_id", m.opts.SessionID, "kind", out.v.kind)
			if m.opts.OnKick != nil {
				m.opts.OnKick(out.v.kickReason)
			}
			// Kick aborts the tick before event emission.
			return
		}
		if out.warned && m.opts.OnWarning != nil {
			m.opts.OnWarning(out.v.warnMsg)
		}
		if out.flag != nil {
			flags = append(flags, *out.flag)
		}
	}

	event := types.SafetyEvent{
		SessionID: m.opts.SessionID,
		Timestamp: now.UTC().Format(time.RFC3339),
		Flags:     flags,
		Source:    types.SourceRealtime,
	}
	if !event.Fired() {
		return
	}

	if m.opts.Sink != nil {
		if err := m.opts.Sink.StoreSafetyEvent(ctx, event); err != nil {
			slog.Warn("safety event store failed",
				"session_id", m.opts.SessionID, "err", err)
		}
	}
	if m.opts.Metrics != nil {
		for _, f := range event.Flags {
			if f.Flagged {
				m.opts.Metrics.RecordSafetyFlag(ctx, string(f.Kind), string(event.Source))
			}
		}
	}
	if m.opts.OnFlag != nil {
		m.opts.OnFlag(event.Flags)
	}
}

// faceWorker runs face detection on frames posted by the tick and keeps the
// latest result as the current face liveness estimate. Detection errors leave
// the previous score in place.
func (m *Monitor) faceWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-m.frames:
			result, err := m.opts.Face.Detect(ctx, frame)
			if err != nil {
				slog.Debug("face detection failed",
					"session_id", m.opts.SessionID, "err", err)
				continue
			}
			m.mu.Lock()
			m.faceScore = result.Score
			m.faceSeen = result.Detected
			m.mu.Unlock()
		}
	}
}

// voiceWorker assembles incoming PCM into fixed windows and classifies each
// one. With a nil audio channel it idles until shutdown, leaving the initial
// live score untouched.
func (m *Monitor) voiceWorker(ctx context.Context) error {
	var buf []float32

	for {
		select {
		case <-ctx.Done():
			return nil
		case samples, ok := <-m.opts.Audio:
			if !ok {
				return nil
			}
			buf = append(buf, samples...)
			for len(buf) >= voiceWindowSamples {
				window := make([]float32, voiceWindowSamples)
				copy(window, buf[:voiceWindowSamples])
				buf = buf[voiceWindowSamples:]

				labels, err := m.opts.Voice.Classify(ctx, window)
				if err != nil {
					slog.Debug("voice classification failed",
						"session_id", m.opts.SessionID, "err", err)
					continue
				}
				score := liveness.ResolveLivenessScore(labels)
				m.mu.Lock()
				m.voiceScore = score
				m.mu.Unlock()
			}
		}
	}
}

// Scores returns the current modality estimates. Used by tests and the
// events feed.
func (m *Monitor) Scores() (faceScore float64, faceSeen bool, voiceScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faceScore, m.faceSeen, m.voiceScore
}
