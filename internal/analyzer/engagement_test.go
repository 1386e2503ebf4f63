package analyzer

import (
	"testing"

	"github.com/vigil-video/vigil/pkg/types"
)

func TestComputeEngagement(t *testing.T) {
	t.Parallel()

	transcript := &types.TranscriptResult{
		Text: "hello there",
		Segments: []types.TranscriptSegment{
			{Start: 0, End: 1},
			{Start: 3, End: 4},
			{Start: 4.5, End: 5},
			{Start: 10, End: 12},
		},
	}

	got := ComputeEngagement(transcript)

	if got.TotalTalkTimeSec == nil || *got.TotalTalkTimeSec != 4.5 {
		t.Errorf("TotalTalkTimeSec = %v, want 4.5", got.TotalTalkTimeSec)
	}
	if got.Turns == nil || *got.Turns != 4 {
		t.Errorf("Turns = %v, want 4", got.Turns)
	}
	if got.AvgTurnSec == nil || *got.AvgTurnSec != 1.125 {
		t.Errorf("AvgTurnSec = %v, want 1.125", got.AvgTurnSec)
	}
	// The 1..3 gap is exactly 2s and must not count; only 5..10 does.
	if got.LongPauses == nil || *got.LongPauses != 1 {
		t.Errorf("LongPauses = %v, want 1", got.LongPauses)
	}
	if got.Overlaps == nil || *got.Overlaps != 0 {
		t.Errorf("Overlaps = %v, want 0", got.Overlaps)
	}
	if got.Score != 100 {
		t.Errorf("Score = %d, want 100", got.Score)
	}
	if n := types.FlaggedCount(got.Flags); n != 0 {
		t.Errorf("flagged count = %d, want 0", n)
	}
	if got.GazeEstimate != types.LevelUnknown || got.VoiceProsody != types.ProsodyUnknown {
		t.Errorf("qualitative axes = (%v, %v), want unknown", got.GazeEstimate, got.VoiceProsody)
	}
}

func TestComputeEngagement_ShortTurns(t *testing.T) {
	t.Parallel()

	transcript := &types.TranscriptResult{
		Segments: []types.TranscriptSegment{
			{Start: 0, End: 0.5},
			{Start: 1, End: 1.4},
		},
	}

	got := ComputeEngagement(transcript)

	var avgFlag *types.MetricFlag
	for i := range got.Flags {
		if got.Flags[i].Metric == "avg_turn_sec" {
			avgFlag = &got.Flags[i]
		}
	}
	if avgFlag == nil {
		t.Fatal("avg_turn_sec flag missing")
	}
	if !avgFlag.Flagged {
		t.Error("avg_turn_sec should fire for sub-second turns")
	}
	if got.Score != 85 {
		t.Errorf("Score = %d, want 85", got.Score)
	}
}

func TestComputeEngagement_NilTranscript(t *testing.T) {
	t.Parallel()

	got := ComputeEngagement(nil)

	if got.TotalTalkTimeSec != nil || got.Turns != nil || got.AvgTurnSec != nil ||
		got.LongPauses != nil || got.Overlaps != nil {
		t.Errorf("numeric fields should be nil, got %+v", got)
	}
	if got.Score != 0 {
		t.Errorf("Score = %d, want 0", got.Score)
	}
	if len(got.Flags) != 0 {
		t.Errorf("Flags = %v, want empty", got.Flags)
	}
	if got.GazeEstimate != types.LevelUnknown ||
		got.FrontFacePresence != types.LevelUnknown ||
		got.VoiceProsody != types.ProsodyUnknown ||
		got.UnnaturalConversation != types.LevelUnknown {
		t.Error("qualitative axes should all be unknown")
	}
}

func TestComputeEngagement_EmptySegments(t *testing.T) {
	t.Parallel()

	got := ComputeEngagement(&types.TranscriptResult{})

	if got.TotalTalkTimeSec == nil || *got.TotalTalkTimeSec != 0 {
		t.Errorf("TotalTalkTimeSec = %v, want 0", got.TotalTalkTimeSec)
	}
	if got.Turns == nil || *got.Turns != 0 {
		t.Errorf("Turns = %v, want 0", got.Turns)
	}
	// Zero turns means avg_turn_sec is 0 and fires.
	if got.Score != 85 {
		t.Errorf("Score = %d, want 85", got.Score)
	}
}
