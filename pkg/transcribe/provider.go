// Package transcribe defines the Transcriber interface for batch
// speech-to-text backends.
//
// A transcriber takes a path to a 16 kHz mono PCM/WAV file and returns the
// full text plus timed segments. An empty transcript is a valid success; only
// a failed remote call is an error.
package transcribe

import (
	"context"

	"github.com/vigil-video/vigil/pkg/types"
)

// Transcriber is the abstraction over any batch STT backend.
//
// Implementations must be safe for concurrent use; the pipeline may process
// several sessions at once.
type Transcriber interface {
	// Transcribe submits the audio file at audioPath and returns the
	// transcript. Returns an error only when the backend call fails.
	Transcribe(ctx context.Context, audioPath string) (*types.TranscriptResult, error)
}
