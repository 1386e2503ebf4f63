package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vigil-video/vigil/pkg/liveness"
	livemock "github.com/vigil-video/vigil/pkg/liveness/mock"
	"github.com/vigil-video/vigil/pkg/types"
)

// fakeClock is a settable time source shared between the test and the
// monitor's violation timers.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// staticFrames serves the same JPEG bytes forever and counts requests.
type staticFrames struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (f *staticFrames) Frame(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte("jpeg"), nil
}

func (f *staticFrames) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder collects monitor callbacks.
type recorder struct {
	mu       sync.Mutex
	warnings []string
	kicks    []string
	events   []types.SafetyEvent
}

func (r *recorder) onWarning(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

func (r *recorder) onKick(reason string) {
	r.mu.Lock()
	r.kicks = append(r.kicks, reason)
	r.mu.Unlock()
}

func (r *recorder) StoreSafetyEvent(_ context.Context, event types.SafetyEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() (warnings, kicks []string, events []types.SafetyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...),
		append([]string(nil), r.kicks...),
		append([]types.SafetyEvent(nil), r.events...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting: " + msg)
}

func TestFaceViolationEscalatesToKick(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rec := &recorder{}
	// Face worker keeps reporting no face, so the face score stays 0.
	face := &livemock.FaceAnalyzer{Result: liveness.FaceResult{Detected: false, Score: 0}}
	voice := &livemock.VoiceClassifier{}

	m, err := Start(context.Background(), Options{
		SessionID: "sess-esc",
		Frames:    &staticFrames{},
		Interval:  10 * time.Millisecond,
		Face:      face,
		Voice:     voice,
		Sink:      rec,
		OnWarning: rec.onWarning,
		OnKick:    rec.onKick,
		now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	// Let a few ticks arm the pending timer at simulated t0.
	waitFor(t, func() bool { return face.Calls() > 0 }, "first face detection")

	clock.Advance(11 * time.Second)
	waitFor(t, func() bool {
		w, _, _ := rec.snapshot()
		return len(w) > 0
	}, "face warning")

	clock.Advance(10 * time.Second)
	waitFor(t, func() bool {
		_, k, _ := rec.snapshot()
		return len(k) > 0
	}, "face kick")

	// Give a few more ticks a chance to double-fire, then assert.
	time.Sleep(50 * time.Millisecond)
	warnings, kicks, events := rec.snapshot()

	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want exactly one", warnings)
	}
	if len(warnings) > 0 && !strings.Contains(warnings[0], "face") {
		t.Errorf("warning %q does not mention the face", warnings[0])
	}
	if len(kicks) != 1 {
		t.Errorf("kicks = %v, want exactly one", kicks)
	}
	if len(kicks) > 0 && !strings.Contains(kicks[0], "20s") {
		t.Errorf("kick reason %q does not mention 20s", kicks[0])
	}

	if len(events) == 0 {
		t.Fatal("no safety events stored")
	}
	for _, ev := range events {
		if !ev.Fired() {
			t.Errorf("stored event without a fired flag: %+v", ev)
		}
		if ev.SessionID != "sess-esc" || ev.Source != types.SourceRealtime {
			t.Errorf("event envelope = %+v", ev)
		}
		for _, f := range ev.Flags {
			if f.Kind != types.FlagFaceLiveness {
				t.Errorf("unexpected flag kind %q", f.Kind)
			}
		}
	}
}

func TestVoiceStaysLiveWithoutAudio(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rec := &recorder{}
	face := &livemock.FaceAnalyzer{Result: liveness.FaceResult{Detected: true, Score: 0.9}}

	m, err := Start(context.Background(), Options{
		SessionID: "sess-silent",
		Frames:    &staticFrames{},
		Interval:  10 * time.Millisecond,
		Face:      face,
		Voice:     &livemock.VoiceClassifier{},
		Sink:      rec,
		OnWarning: rec.onWarning,
		OnKick:    rec.onKick,
		now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	// Wait until the face worker has reported a live face so only voice
	// could possibly violate.
	waitFor(t, func() bool {
		score, _, _ := m.Scores()
		return score >= 0.9
	}, "face score update")

	clock.Advance(30 * time.Second)
	time.Sleep(100 * time.Millisecond)

	warnings, kicks, _ := rec.snapshot()
	if len(warnings) != 0 || len(kicks) != 0 {
		t.Errorf("warnings = %v, kicks = %v; want none (voice defaults to live)", warnings, kicks)
	}
	if _, _, voiceScore := m.Scores(); voiceScore != 1 {
		t.Errorf("voiceScore = %v, want initial 1", voiceScore)
	}
}

func TestVoiceWindowAssembly(t *testing.T) {
	t.Parallel()

	audio := make(chan []float32, 16)
	voice := &livemock.VoiceClassifier{Labels: []liveness.Label{{Name: "spoof", Score: 0.9}}}
	face := &livemock.FaceAnalyzer{Result: liveness.FaceResult{Detected: true, Score: 0.9}}

	m, err := Start(context.Background(), Options{
		SessionID: "sess-voice",
		Frames:    &staticFrames{},
		Interval:  time.Hour, // keep the tick out of the way
		Face:      face,
		Voice:     voice,
		Audio:     audio,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	// 8 chunks of 4000 samples reach exactly one 32000-sample window.
	for i := 0; i < 8; i++ {
		audio <- make([]float32, 4000)
	}

	waitFor(t, func() bool { return len(voice.Windows()) == 1 }, "one classified window")

	windows := voice.Windows()
	if len(windows[0]) != voiceWindowSamples {
		t.Errorf("window size = %d, want %d", len(windows[0]), voiceWindowSamples)
	}

	// spoof 0.9 resolves to liveness 0.1.
	waitFor(t, func() bool {
		_, _, score := m.Scores()
		return score < 0.2
	}, "voice score update")
}

func TestTickBackpressureSkips(t *testing.T) {
	t.Parallel()

	frames := &staticFrames{delay: 80 * time.Millisecond}
	face := &livemock.FaceAnalyzer{Result: liveness.FaceResult{Detected: true, Score: 0.9}}

	m, err := Start(context.Background(), Options{
		SessionID: "sess-slow",
		Frames:    frames,
		Interval:  10 * time.Millisecond,
		Face:      face,
		Voice:     &livemock.VoiceClassifier{},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(400 * time.Millisecond)
	m.Stop()

	// Forty intervals elapsed but each tick holds the running sentinel for
	// ~80ms, so most intervals must have been skipped.
	if calls := frames.Calls(); calls > 12 {
		t.Errorf("frame grabs = %d, want far fewer than elapsed/interval (backpressure)", calls)
	}
}

func TestStartValidation(t *testing.T) {
	t.Parallel()

	_, err := Start(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected error for missing options")
	}
}
