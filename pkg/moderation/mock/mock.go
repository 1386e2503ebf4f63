// Package mock provides a test double for the moderation.Moderator interface.
package mock

import (
	"context"
	"sync"

	"github.com/vigil-video/vigil/pkg/moderation"
	"github.com/vigil-video/vigil/pkg/types"
)

// Compile-time assertion that Moderator implements moderation.Moderator.
var _ moderation.Moderator = (*Moderator)(nil)

// Moderator is a configurable mock. Set Flags or Err before use.
type Moderator struct {
	mu    sync.Mutex
	calls int

	// Flags is returned by Moderate when Err is nil.
	Flags []types.SafetyFlag

	// Err, when non-nil, is returned by Moderate.
	Err error
}

// Moderate counts the call and returns the configured flags.
func (m *Moderator) Moderate(_ context.Context, _ []byte) ([]types.SafetyFlag, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.Flags, nil
}

// Calls returns the number of Moderate invocations so far.
func (m *Moderator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
