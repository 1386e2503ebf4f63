package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/vigil-video/vigil/pkg/media"
	"github.com/vigil-video/vigil/pkg/types"
)

func ptr[T any](v T) *T { return &v }

type fakeProber struct {
	probe    *media.ProbeReport
	loudness *media.LoudnessReport
	probeErr error
	loudErr  error
}

func (f *fakeProber) Probe(context.Context, string) (*media.ProbeReport, error) {
	return f.probe, f.probeErr
}

func (f *fakeProber) Loudness(context.Context, string) (*media.LoudnessReport, error) {
	return f.loudness, f.loudErr
}

func flagByMetric(t *testing.T, flags []types.MetricFlag, metric string) types.MetricFlag {
	t.Helper()
	for _, f := range flags {
		if f.Metric == metric {
			return f
		}
	}
	t.Fatalf("flag %q missing", metric)
	return types.MetricFlag{}
}

func TestComputeQuality_LowQualityRecording(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{
		probe: &media.ProbeReport{
			Width:       ptr(640),
			Height:      ptr(360),
			FPS:         ptr(15.0),
			DurationSec: ptr(42.0),
		},
		loudness: &media.LoudnessReport{MeanDb: ptr(-45.0), MaxDb: ptr(-2.0)},
	}

	got, err := ComputeQuality(context.Background(), prober, "in.mp4")
	if err != nil {
		t.Fatalf("ComputeQuality: %v", err)
	}

	if got.Resolution == nil || got.Resolution.Width != 640 || got.Resolution.Height != 360 {
		t.Errorf("Resolution = %+v, want 640x360", got.Resolution)
	}
	if got.AudioSnrEstimateDb == nil || *got.AudioSnrEstimateDb != 15 {
		t.Errorf("AudioSnrEstimateDb = %v, want 15", got.AudioSnrEstimateDb)
	}

	wantFired := map[string]bool{
		"resolution_width":      true,
		"resolution_height":     true,
		"fps":                   true,
		"audio_mean_volume_db":  true,
		"audio_max_volume_db":   false,
		"audio_snr_estimate_db": true,
	}
	for metric, want := range wantFired {
		if f := flagByMetric(t, got.Flags, metric); f.Flagged != want {
			t.Errorf("%s flagged = %v, want %v", metric, f.Flagged, want)
		}
	}

	if got.Score != 40 {
		t.Errorf("Score = %d, want 40", got.Score)
	}
}

func TestComputeQuality_GoodRecording(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{
		probe: &media.ProbeReport{
			Width:            ptr(1920),
			Height:           ptr(1080),
			FPS:              ptr(30.0),
			DurationSec:      ptr(120.0),
			VideoBitrateKbps: ptr(2500.0),
			AudioBitrateKbps: ptr(128.0),
		},
		loudness: &media.LoudnessReport{MeanDb: ptr(-20.0), MaxDb: ptr(-3.0)},
	}

	got, err := ComputeQuality(context.Background(), prober, "in.mp4")
	if err != nil {
		t.Fatalf("ComputeQuality: %v", err)
	}
	if got.Score != 100 {
		t.Errorf("Score = %d, want 100", got.Score)
	}
	if n := types.FlaggedCount(got.Flags); n != 0 {
		t.Errorf("flagged count = %d, want 0", n)
	}
}

func TestComputeQuality_MissingValues(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{
		probe:    &media.ProbeReport{Width: ptr(1280)},
		loudness: &media.LoudnessReport{},
	}

	got, err := ComputeQuality(context.Background(), prober, "in.mp4")
	if err != nil {
		t.Fatalf("ComputeQuality: %v", err)
	}

	// Height missing, so no resolution object even though width is known.
	if got.Resolution != nil {
		t.Errorf("Resolution = %+v, want nil", got.Resolution)
	}
	// Missing values fire their flags, except max volume.
	if f := flagByMetric(t, got.Flags, "resolution_height"); !f.Flagged {
		t.Error("resolution_height should fire when missing")
	}
	if f := flagByMetric(t, got.Flags, "audio_max_volume_db"); f.Flagged {
		t.Error("audio_max_volume_db should not fire when missing")
	}
	if f := flagByMetric(t, got.Flags, "audio_snr_estimate_db"); !f.Flagged {
		t.Error("audio_snr_estimate_db should fire when missing")
	}
	// width, max volume pass; the other four fire.
	if got.Score != 52 {
		t.Errorf("Score = %d, want 52", got.Score)
	}
}

func TestComputeQuality_ProbeFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("ffprobe exploded")
	prober := &fakeProber{probeErr: wantErr}

	if _, err := ComputeQuality(context.Background(), prober, "in.mp4"); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
