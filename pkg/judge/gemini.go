package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vigil-video/vigil/pkg/types"
)

const (
	defaultModel   = "gemini-1.5-flash"
	defaultBaseURL = "https://generativelanguage.googleapis.com"

	// maxTranscriptChars caps the transcript text included in the prompt.
	maxTranscriptChars = 12000

	// maxSegments caps the timed segments included in the prompt.
	maxSegments = 200

	temperature = 0.2
)

// Compile-time assertion that Gemini implements Judge.
var _ Judge = (*Gemini)(nil)

// Option is a functional option for configuring a Gemini judge.
type Option func(*Gemini)

// WithModel sets the Gemini model used for analysis.
func WithModel(model string) Option {
	return func(g *Gemini) { g.model = model }
}

// WithBaseURL overrides the API base URL. Primarily used in tests to point at
// a local mock server.
func WithBaseURL(url string) Option {
	return func(g *Gemini) { g.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gemini) { g.httpClient = client }
}

// Gemini implements Judge against the generateContent REST API, requesting
// JSON output at low temperature.
type Gemini struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGemini creates a judge authenticated with apiKey.
func NewGemini(apiKey string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// ── Wire types ────────────────────────────────────────────────────────────────

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// promptPayload is the JSON document embedded as the user part's text.
type promptPayload struct {
	System string     `json:"system"`
	User   promptUser `json:"user"`
}

type promptUser struct {
	Transcript         string                    `json:"transcript"`
	TranscriptSegments []types.TranscriptSegment `json:"transcriptSegments"`
	DerivedQuality     *types.QualityMetrics     `json:"derivedQuality"`
	DerivedEngagement  *types.EngagementMetrics  `json:"derivedEngagement"`
	Instructions       map[string]any            `json:"instructions"`
}

// Analyze implements Judge.
func (g *Gemini) Analyze(ctx context.Context, input Input) (*Verdict, error) {
	prompt, err := json.Marshal(buildPrompt(input))
	if err != nil {
		return nil, fmt.Errorf("judge: marshal prompt: %w", err)
	}

	reqBody, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: string(prompt)}},
		}},
		GenerationConfig: generationConfig{
			Temperature:      temperature,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("judge: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("judge: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("judge: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("judge: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("judge: gemini returned HTTP %d: %s", resp.StatusCode, body)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("judge: parse response envelope: %w", err)
	}

	rawText := "{}"
	if len(parsed.Candidates) > 0 && len(parsed.Candidates[0].Content.Parts) > 0 {
		rawText = parsed.Candidates[0].Content.Parts[0].Text
	}

	verdict := &Verdict{}
	if err := json.Unmarshal([]byte(rawText), verdict); err != nil {
		return nil, fmt.Errorf("judge: parse model output %q: %w", rawText, err)
	}
	return verdict, nil
}

// buildPrompt assembles the prompt document, truncating the transcript text
// and segment list to keep the request within model limits.
func buildPrompt(input Input) promptPayload {
	text := ""
	var segments []types.TranscriptSegment
	if input.Transcript != nil {
		text = truncateRunes(input.Transcript.Text, maxTranscriptChars)
		segments = input.Transcript.Segments
		if len(segments) > maxSegments {
			segments = segments[:maxSegments]
		}
	}
	if segments == nil {
		segments = []types.TranscriptSegment{}
	}

	return promptPayload{
		System: "You are an evaluator for a single-user recorded video session.\nReturn JSON only.",
		User: promptUser{
			Transcript:         text,
			TranscriptSegments: segments,
			DerivedQuality:     input.Quality,
			DerivedEngagement:  input.Engagement,
			Instructions: map[string]any{
				"engagement": []string{
					"Estimate gaze/eye contact, front face presence, voice prosody, unnatural conversation using transcript cues and derived metadata.",
					"Return scores 0-100 and flags for low quality.",
				},
				"quality": []string{
					"Assess video resolution, fps, artifacts/noise/motion blur using derivedQuality hints.",
					"Assess audio SNR, volume consistency, clipping using derivedQuality.",
				},
				"output": map[string]any{
					"engagement": map[string]string{
						"gazeEstimate":          "low|medium|high",
						"frontFacePresence":     "low|medium|high",
						"voiceProsody":          "flat|variable",
						"unnaturalConversation": "low|medium|high",
						"score":                 "number 0-100",
						"flags":                 "array",
					},
					"quality": map[string]string{
						"score": "number 0-100",
						"flags": "array",
					},
					"combinedScore": "number 0-100",
					"notes":         "string",
				},
			},
		},
	}
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
