// Package mock provides a test double for the transcribe.Transcriber
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/vigil-video/vigil/pkg/transcribe"
	"github.com/vigil-video/vigil/pkg/types"
)

// Compile-time assertion that Transcriber implements transcribe.Transcriber.
var _ transcribe.Transcriber = (*Transcriber)(nil)

// Transcriber is a configurable mock. Set Result or Err before use.
type Transcriber struct {
	mu    sync.Mutex
	calls []string

	// Result is returned by Transcribe when Err is nil.
	Result *types.TranscriptResult

	// Err, when non-nil, is returned by Transcribe.
	Err error
}

// Transcribe records the audio path and returns the configured result.
func (m *Transcriber) Transcribe(_ context.Context, audioPath string) (*types.TranscriptResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, audioPath)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

// Calls returns the audio paths passed to Transcribe so far.
func (m *Transcriber) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
