// Package judge defines the LLM-judge interface: a model that reviews the
// derived transcript, quality, and engagement artifacts and returns refined
// qualitative estimates plus a holistic combined score.
package judge

import (
	"context"

	"github.com/vigil-video/vigil/pkg/types"
)

// Input carries the derived artifacts submitted for judgement. Any field may
// be nil when the corresponding analyzer failed.
type Input struct {
	Transcript *types.TranscriptResult
	Quality    *types.QualityMetrics
	Engagement *types.EngagementMetrics
}

// EngagementPatch is the judge's partial engagement refinement. Nil fields
// leave the derived value untouched; set fields overwrite it.
type EngagementPatch struct {
	GazeEstimate          *types.Level        `json:"gazeEstimate"`
	FrontFacePresence     *types.Level        `json:"frontFacePresence"`
	VoiceProsody          *types.Prosody      `json:"voiceProsody"`
	UnnaturalConversation *types.Level        `json:"unnaturalConversation"`
	Score                 *int                `json:"score"`
	Flags                 []types.MetricFlag  `json:"flags"`
}

// Apply overwrites the set fields of m with the patch values.
func (p EngagementPatch) Apply(m *types.EngagementMetrics) {
	if m == nil {
		return
	}
	if p.GazeEstimate != nil {
		m.GazeEstimate = *p.GazeEstimate
	}
	if p.FrontFacePresence != nil {
		m.FrontFacePresence = *p.FrontFacePresence
	}
	if p.VoiceProsody != nil {
		m.VoiceProsody = *p.VoiceProsody
	}
	if p.UnnaturalConversation != nil {
		m.UnnaturalConversation = *p.UnnaturalConversation
	}
	if p.Score != nil {
		m.Score = *p.Score
	}
	if p.Flags != nil {
		m.Flags = p.Flags
	}
}

// QualityPatch is the judge's partial quality refinement.
type QualityPatch struct {
	Score *int               `json:"score"`
	Flags []types.MetricFlag `json:"flags"`
}

// Apply overwrites the set fields of m with the patch values.
func (p QualityPatch) Apply(m *types.QualityMetrics) {
	if m == nil {
		return
	}
	if p.Score != nil {
		m.Score = *p.Score
	}
	if p.Flags != nil {
		m.Flags = p.Flags
	}
}

// Verdict is the judge's full response.
type Verdict struct {
	Engagement    EngagementPatch `json:"engagement"`
	Quality       QualityPatch    `json:"quality"`
	CombinedScore *int            `json:"combinedScore"`
	Notes         string          `json:"notes"`
}

// Judge is the abstraction over the LLM backend.
//
// Implementations must be safe for concurrent use.
type Judge interface {
	// Analyze submits the derived artifacts and returns the verdict.
	// Both transport failures and unparseable model output are errors;
	// the pipeline absorbs them at step granularity.
	Analyze(ctx context.Context, input Input) (*Verdict, error)
}
