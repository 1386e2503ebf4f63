package analyzer

import (
	"context"

	"github.com/vigil-video/vigil/pkg/media"
	"github.com/vigil-video/vigil/pkg/types"
)

const (
	// qualityFlagWeight is the score penalty per fired quality flag.
	qualityFlagWeight = 12

	// noiseFloorDb is the assumed noise floor used for the SNR estimate.
	noiseFloorDb = -60.0
)

// MediaProber is the slice of the media transcoder the quality analyzer
// needs. *media.Transcoder satisfies it.
type MediaProber interface {
	Probe(ctx context.Context, path string) (*media.ProbeReport, error)
	Loudness(ctx context.Context, path string) (*media.LoudnessReport, error)
}

// ComputeQuality probes videoPath and derives the quality report. A probe or
// loudness subprocess failure is returned as an error; the pipeline treats it
// as a non-fatal analyzer failure.
func ComputeQuality(ctx context.Context, prober MediaProber, videoPath string) (*types.QualityMetrics, error) {
	probe, err := prober.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	loudness, err := prober.Loudness(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	return QualityFromReports(probe, loudness), nil
}

// QualityFromReports is the pure derivation over already-collected reports.
func QualityFromReports(probe *media.ProbeReport, loudness *media.LoudnessReport) *types.QualityMetrics {
	var snr *float64
	if loudness.MeanDb != nil {
		v := *loudness.MeanDb - noiseFloorDb
		snr = &v
	}

	var widthF, heightF *float64
	if probe.Width != nil {
		f := float64(*probe.Width)
		widthF = &f
	}
	if probe.Height != nil {
		f := float64(*probe.Height)
		heightF = &f
	}

	flags := []types.MetricFlag{
		{Metric: "resolution_width", Value: nullable(widthF), Threshold: 1280,
			Flagged: widthF == nil || *widthF < 1280},
		{Metric: "resolution_height", Value: nullable(heightF), Threshold: 720,
			Flagged: heightF == nil || *heightF < 720},
		{Metric: "fps", Value: nullable(probe.FPS), Threshold: 24,
			Flagged: probe.FPS == nil || *probe.FPS < 24},
		{Metric: "audio_mean_volume_db", Value: nullable(loudness.MeanDb), Threshold: -30,
			Flagged: loudness.MeanDb == nil || *loudness.MeanDb < -30},
		// A missing peak level is not treated as clipping.
		{Metric: "audio_max_volume_db", Value: nullable(loudness.MaxDb), Threshold: -1,
			Flagged: loudness.MaxDb != nil && *loudness.MaxDb > -1},
		{Metric: "audio_snr_estimate_db", Value: nullable(snr), Threshold: 20,
			Flagged: snr == nil || *snr < 20},
	}

	score := 100 - types.FlaggedCount(flags)*qualityFlagWeight
	if score < 0 {
		score = 0
	}

	var resolution *types.Resolution
	if probe.Width != nil && probe.Height != nil && *probe.Width > 0 && *probe.Height > 0 {
		resolution = &types.Resolution{Width: *probe.Width, Height: *probe.Height}
	}

	return &types.QualityMetrics{
		Resolution:         resolution,
		FPS:                probe.FPS,
		DurationSec:        probe.DurationSec,
		VideoBitrateKbps:   probe.VideoBitrateKbps,
		AudioBitrateKbps:   probe.AudioBitrateKbps,
		AudioMeanVolumeDb:  loudness.MeanDb,
		AudioMaxVolumeDb:   loudness.MaxDb,
		AudioSnrEstimateDb: snr,
		Flags:              flags,
		Score:              score,
	}
}

// nullable converts a *float64 to the any value stored in a MetricFlag so
// that a nil pointer serialises as JSON null instead of a typed nil.
func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
