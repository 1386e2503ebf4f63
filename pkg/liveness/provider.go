// Package liveness defines the provider interfaces for face- and
// voice-liveness classification used by the realtime safety monitor.
//
// A face analyzer scores a still frame for the presence of a live human face;
// a voice classifier labels a fixed-length PCM window as real or synthetic
// speech. Both ship with HTTP-sidecar implementations (a model server is
// loaded once at start, GPU preferred with CPU fallback) and mock
// implementations for tests.
package liveness

import (
	"context"
	"strings"
)

// FaceResult is one face-liveness verdict for a single frame.
type FaceResult struct {
	// Detected reports whether at least one face was found.
	Detected bool

	// Score is the liveness score in [0, 1]. 0 when no face was found.
	Score float64

	// BlinkLeft and BlinkRight are the eyeBlinkLeft/eyeBlinkRight
	// blendshape activations when the model reports them.
	BlinkLeft  float64
	BlinkRight float64
}

// FaceAnalyzer scores frames for face liveness.
//
// Implementations must be safe for concurrent use.
type FaceAnalyzer interface {
	// Detect runs face detection over the encoded JPEG frame.
	Detect(ctx context.Context, jpeg []byte) (FaceResult, error)
}

// Label is one classifier output class with its probability.
type Label struct {
	Name  string  `json:"label"`
	Score float64 `json:"score"`
}

// VoiceClassifier labels a window of Float32 PCM samples.
//
// Implementations must be safe for concurrent use.
type VoiceClassifier interface {
	// Classify runs audio classification over samples (16 kHz mono).
	Classify(ctx context.Context, samples []float32) ([]Label, error)
}

// ResolveLivenessScore reduces labelled classifier output to a single
// real-speech probability. A label containing "real" or "bonafide" is used
// directly; a label containing "fake" or "spoof" is inverted; with neither
// present the score defaults to 0.5.
func ResolveLivenessScore(labels []Label) float64 {
	for _, l := range labels {
		name := strings.ToLower(l.Name)
		if strings.Contains(name, "real") || strings.Contains(name, "bonafide") {
			return l.Score
		}
	}
	for _, l := range labels {
		name := strings.ToLower(l.Name)
		if strings.Contains(name, "fake") || strings.Contains(name, "spoof") {
			return 1 - l.Score
		}
	}
	return 0.5
}
