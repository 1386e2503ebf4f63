// Package types defines the shared types used across all Vigil packages.
//
// These types form the lingua franca between the analysis pipeline, the
// realtime safety monitor, and the storage layers. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
//
// JSON field names are the wire format of the persisted artifacts
// (sessions/{id}/analysis.json and friends) and must not be changed casually.
package types

// FlagKind identifies the category of a safety flag.
type FlagKind string

// Recognised safety flag kinds. The realtime monitor emits nudity, profanity,
// face_liveness, and voice_liveness; the remaining kinds are reserved for
// future classifiers.
const (
	FlagNudity             FlagKind = "nudity"
	FlagProfanity          FlagKind = "profanity"
	FlagFaceLiveness       FlagKind = "face_liveness"
	FlagVoiceLiveness      FlagKind = "voice_liveness"
	FlagSuspiciousBehavior FlagKind = "suspicious_behavior"
	FlagAIBot              FlagKind = "ai_bot"
	FlagOffensive          FlagKind = "offensive"
	FlagHarassment         FlagKind = "harassment"
	FlagViolence           FlagKind = "violence"
)

// IsValid reports whether k is a recognised flag kind.
func (k FlagKind) IsValid() bool {
	switch k {
	case FlagNudity, FlagProfanity, FlagFaceLiveness, FlagVoiceLiveness,
		FlagSuspiciousBehavior, FlagAIBot, FlagOffensive, FlagHarassment, FlagViolence:
		return true
	}
	return false
}

// SafetyFlag is a single classifier verdict. Flagged must equal
// Score >= Threshold whenever the classifier produced a score.
type SafetyFlag struct {
	Kind      FlagKind       `json:"type"`
	Score     float64        `json:"score"`
	Threshold float64        `json:"threshold"`
	Flagged   bool           `json:"flagged"`
	Details   map[string]any `json:"details,omitempty"`
}

// EventSource tells whether a safety event was produced by the realtime
// monitor or by post-session analysis.
type EventSource string

const (
	SourceRealtime EventSource = "realtime"
	SourcePost     EventSource = "post"
)

// SafetyEvent is emitted when at least one flag in Flags is Flagged.
// Timestamp is an ISO-8601 string; it doubles as the object-store key suffix
// under sessions/{id}/safety/.
type SafetyEvent struct {
	SessionID string       `json:"sessionId"`
	Timestamp string       `json:"timestamp"`
	Flags     []SafetyFlag `json:"flags"`
	Source    EventSource  `json:"source,omitempty"`
}

// Fired reports whether the event carries at least one flagged entry.
func (e SafetyEvent) Fired() bool {
	for _, f := range e.Flags {
		if f.Flagged {
			return true
		}
	}
	return false
}

// TranscriptSegment is a timed slice of transcribed speech, with
// 0 <= Start <= End in seconds from the start of the recording.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResult is the output of the transcription adapter. An empty
// transcript (empty Text, no Segments) is a valid success. Raw preserves the
// provider's unmodified response for debugging.
type TranscriptResult struct {
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments"`
	Language string              `json:"language,omitempty"`
	Raw      any                 `json:"raw,omitempty"`
}

// Resolution is a video frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MetricFlag records one threshold check inside a quality or engagement
// report. Value and Threshold are loosely typed because the LLM judge may
// replace derived numeric flags with free-form ones.
type MetricFlag struct {
	Metric    string `json:"metric"`
	Value     any    `json:"value"`
	Threshold any    `json:"threshold"`
	Flagged   bool   `json:"flagged"`
}

// FlaggedCount returns the number of flags with Flagged set.
func FlaggedCount(flags []MetricFlag) int {
	n := 0
	for _, f := range flags {
		if f.Flagged {
			n++
		}
	}
	return n
}

// QualityMetrics holds objective media-quality measurements for a recording.
// Pointer fields are null in the JSON artifact when the probe did not yield a
// value. Score is max(0, 100 - 12*flaggedCount).
type QualityMetrics struct {
	Resolution         *Resolution  `json:"resolution"`
	FPS                *float64     `json:"fps"`
	DurationSec        *float64     `json:"durationSec"`
	VideoBitrateKbps   *float64     `json:"videoBitrateKbps"`
	AudioBitrateKbps   *float64     `json:"audioBitrateKbps"`
	AudioMeanVolumeDb  *float64     `json:"audioMeanVolumeDb"`
	AudioMaxVolumeDb   *float64     `json:"audioMaxVolumeDb"`
	AudioSnrEstimateDb *float64     `json:"audioSnrEstimateDb"`
	Flags              []MetricFlag `json:"flags"`
	Score              int          `json:"score"`
}

// Level is a coarse qualitative estimate with an explicit unknown state so
// the derived metrics can carry a safe default before the LLM judge refines
// them.
type Level string

const (
	LevelLow     Level = "low"
	LevelMedium  Level = "medium"
	LevelHigh    Level = "high"
	LevelUnknown Level = "unknown"
)

// IsValid reports whether l is a recognised level.
func (l Level) IsValid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelUnknown:
		return true
	}
	return false
}

// Prosody describes voice pitch/energy variation.
type Prosody string

const (
	ProsodyFlat     Prosody = "flat"
	ProsodyVariable Prosody = "variable"
	ProsodyUnknown  Prosody = "unknown"
)

// IsValid reports whether p is a recognised prosody value.
func (p Prosody) IsValid() bool {
	return p == ProsodyFlat || p == ProsodyVariable || p == ProsodyUnknown
}

// EngagementMetrics holds conversational-engagement measurements derived from
// the transcript, later refined by the LLM judge. Pointer fields are null
// when no transcript was available. Score is max(0, 100 - 15*flaggedCount).
type EngagementMetrics struct {
	TotalTalkTimeSec      *float64     `json:"totalTalkTimeSec"`
	Turns                 *int         `json:"turns"`
	AvgTurnSec            *float64     `json:"avgTurnSec"`
	LongPauses            *int         `json:"longPauses"`
	Overlaps              *int         `json:"overlaps"`
	GazeEstimate          Level        `json:"gazeEstimate"`
	FrontFacePresence     Level        `json:"frontFacePresence"`
	VoiceProsody          Prosody      `json:"voiceProsody"`
	UnnaturalConversation Level        `json:"unnaturalConversation"`
	Flags                 []MetricFlag `json:"flags"`
	Score                 int          `json:"score"`
	ModelNotes            string       `json:"modelNotes,omitempty"`
}

// RecordingRef points at the raw recording: its object-store key and the
// temporary local paths used during analysis.
type RecordingRef struct {
	SourceKey      string `json:"sourceKey"`
	LocalVideoPath string `json:"localVideoPath"`
	LocalAudioPath string `json:"localAudioPath"`
}

// SessionAnalysis is the immutable per-session aggregate written once to
// sessions/{id}/analysis.json. Transcript, Quality, Engagement, and
// CombinedScore are null when the corresponding analyzer failed.
type SessionAnalysis struct {
	SessionID     string             `json:"sessionId"`
	RoomName      string             `json:"roomName"`
	EgressID      string             `json:"egressId,omitempty"`
	Recording     RecordingRef       `json:"recording"`
	Transcript    *TranscriptResult  `json:"transcript"`
	Quality       *QualityMetrics    `json:"quality"`
	Engagement    *EngagementMetrics `json:"engagement"`
	CombinedScore *int               `json:"combinedScore"`
}
