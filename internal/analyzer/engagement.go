// Package analyzer derives objective quality and engagement metrics for a
// recorded session: quality from ffprobe/volumedetect reports, engagement
// from the transcript's timed segments.
package analyzer

import (
	"github.com/vigil-video/vigil/pkg/types"
)

const (
	// engagementFlagWeight is the score penalty per fired engagement flag.
	engagementFlagWeight = 15

	// longPauseGapSec is the silence gap between adjacent segments that
	// counts as a long pause.
	longPauseGapSec = 2.0
)

// ComputeEngagement derives engagement metrics from a transcript. A nil
// transcript yields the sentinel report: all numeric fields null, qualitative
// axes unknown, no flags, score 0. The qualitative axes always start unknown;
// the LLM judge refines them later.
func ComputeEngagement(transcript *types.TranscriptResult) *types.EngagementMetrics {
	if transcript == nil {
		return &types.EngagementMetrics{
			GazeEstimate:          types.LevelUnknown,
			FrontFacePresence:     types.LevelUnknown,
			VoiceProsody:          types.ProsodyUnknown,
			UnnaturalConversation: types.LevelUnknown,
			Flags:                 []types.MetricFlag{},
			Score:                 0,
		}
	}

	segments := transcript.Segments

	totalTalkTime := 0.0
	for _, seg := range segments {
		if d := seg.End - seg.Start; d > 0 {
			totalTalkTime += d
		}
	}

	turns := len(segments)
	avgTurn := 0.0
	if turns > 0 {
		avgTurn = totalTalkTime / float64(turns)
	}

	longPauses := 0
	for i := 1; i < len(segments); i++ {
		if segments[i].Start-segments[i-1].End > longPauseGapSec {
			longPauses++
		}
	}

	// Overlap detection is not implemented; the segment model carries no
	// speaker attribution to detect simultaneous speech with.
	overlaps := 0

	flags := []types.MetricFlag{
		{Metric: "avg_turn_sec", Value: avgTurn, Threshold: 3, Flagged: avgTurn < 1},
		{Metric: "long_pauses", Value: longPauses, Threshold: 3, Flagged: longPauses > 3},
	}

	score := 100 - types.FlaggedCount(flags)*engagementFlagWeight
	if score < 0 {
		score = 0
	}

	return &types.EngagementMetrics{
		TotalTalkTimeSec:      &totalTalkTime,
		Turns:                 &turns,
		AvgTurnSec:            &avgTurn,
		LongPauses:            &longPauses,
		Overlaps:              &overlaps,
		GazeEstimate:          types.LevelUnknown,
		FrontFacePresence:     types.LevelUnknown,
		VoiceProsody:          types.ProsodyUnknown,
		UnnaturalConversation: types.LevelUnknown,
		Flags:                 flags,
		Score:                 score,
	}
}
