package monitor

import (
	"context"
	"sync"
)

// Compile-time assertion that FrameBuffer implements FrameSource.
var _ FrameSource = (*FrameBuffer)(nil)

// FrameBuffer is a FrameSource fed by frame ingest: it holds the most recent
// frame and serves it to the tick. Older frames are replaced, never queued.
// Safe for concurrent use.
type FrameBuffer struct {
	mu    sync.Mutex
	frame []byte
}

// NewFrameBuffer creates an empty buffer; Frame returns ErrFrameUnavailable
// until the first Set.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Set replaces the current frame.
func (b *FrameBuffer) Set(frame []byte) {
	b.mu.Lock()
	b.frame = frame
	b.mu.Unlock()
}

// Frame returns the most recently set frame.
func (b *FrameBuffer) Frame(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame == nil {
		return nil, ErrFrameUnavailable
	}
	return b.frame, nil
}
