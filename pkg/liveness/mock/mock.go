// Package mock provides test doubles for the liveness provider interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/vigil-video/vigil/pkg/liveness"
)

// Compile-time assertions.
var (
	_ liveness.FaceAnalyzer    = (*FaceAnalyzer)(nil)
	_ liveness.VoiceClassifier = (*VoiceClassifier)(nil)
)

// FaceAnalyzer is a configurable mock. Set Result or Err before use.
type FaceAnalyzer struct {
	mu    sync.Mutex
	calls int

	// Result is returned by Detect when Err is nil.
	Result liveness.FaceResult

	// Err, when non-nil, is returned by Detect.
	Err error
}

// Detect counts the call and returns the configured result.
func (m *FaceAnalyzer) Detect(_ context.Context, _ []byte) (liveness.FaceResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return liveness.FaceResult{}, m.Err
	}
	return m.Result, nil
}

// SetResult swaps the configured result. Safe to call while a monitor runs.
func (m *FaceAnalyzer) SetResult(r liveness.FaceResult) {
	m.mu.Lock()
	m.Result = r
	m.mu.Unlock()
}

// Calls returns the number of Detect invocations so far.
func (m *FaceAnalyzer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// VoiceClassifier is a configurable mock. Set Labels or Err before use.
type VoiceClassifier struct {
	mu      sync.Mutex
	windows [][]float32

	// Labels is returned by Classify when Err is nil.
	Labels []liveness.Label

	// Err, when non-nil, is returned by Classify.
	Err error
}

// Classify records the window and returns the configured labels.
func (m *VoiceClassifier) Classify(_ context.Context, samples []float32) ([]liveness.Label, error) {
	window := make([]float32, len(samples))
	copy(window, samples)

	m.mu.Lock()
	m.windows = append(m.windows, window)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.Labels, nil
}

// Windows returns the sample windows passed to Classify so far.
func (m *VoiceClassifier) Windows() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]float32, len(m.windows))
	copy(out, m.windows)
	return out
}
