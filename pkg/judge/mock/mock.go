// Package mock provides a test double for the judge.Judge interface.
package mock

import (
	"context"
	"sync"

	"github.com/vigil-video/vigil/pkg/judge"
)

// Compile-time assertion that Judge implements judge.Judge.
var _ judge.Judge = (*Judge)(nil)

// Judge is a configurable mock. Set Verdict or Err before use.
type Judge struct {
	mu     sync.Mutex
	inputs []judge.Input

	// Verdict is returned by Analyze when Err is nil.
	Verdict *judge.Verdict

	// Err, when non-nil, is returned by Analyze.
	Err error
}

// Analyze records the input and returns the configured verdict.
func (m *Judge) Analyze(_ context.Context, input judge.Input) (*judge.Verdict, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.Verdict, nil
}

// Inputs returns the inputs passed to Analyze so far.
func (m *Judge) Inputs() []judge.Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]judge.Input, len(m.inputs))
	copy(out, m.inputs)
	return out
}
