package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/vigil-video/vigil/pkg/types"
)

const (
	defaultModel   = "openai/whisper-large-v3"
	defaultBaseURL = "https://api-inference.huggingface.co"
)

// Compile-time assertion that HuggingFace implements Transcriber.
var _ Transcriber = (*HuggingFace)(nil)

// Option is a functional option for configuring a HuggingFace transcriber.
type Option func(*HuggingFace)

// WithModel sets the inference model id. Defaults to openai/whisper-large-v3.
func WithModel(model string) Option {
	return func(h *HuggingFace) { h.model = model }
}

// WithBaseURL overrides the inference API base URL. Primarily used in tests
// to point at a local mock server.
func WithBaseURL(url string) Option {
	return func(h *HuggingFace) { h.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(h *HuggingFace) { h.httpClient = client }
}

// HuggingFace implements Transcriber against the HuggingFace inference API.
// The raw WAV body is posted directly; the API returns the transcription with
// optional timestamped chunks.
type HuggingFace struct {
	token      string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewHuggingFace creates a transcriber authenticated with token.
func NewHuggingFace(token string, opts ...Option) *HuggingFace {
	h := &HuggingFace{
		token:      token,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// hfResponse mirrors the inference API output. Chunk timestamps arrive as a
// two-element array that may carry nulls or be truncated to one element.
type hfResponse struct {
	Text     string    `json:"text"`
	Chunks   []hfChunk `json:"chunks"`
	Language string    `json:"language"`
}

type hfChunk struct {
	Timestamp []*float64 `json:"timestamp"`
	Text      string     `json:"text"`
}

// Transcribe implements Transcriber.
func (h *HuggingFace) Transcribe(ctx context.Context, audioPath string) (*types.TranscriptResult, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: read %s: %w", audioPath, err)
	}

	endpoint := h.baseURL + "/models/" + h.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transcribe: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcribe: inference returned HTTP %d: %s", resp.StatusCode, body)
	}

	var parsed hfResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("transcribe: parse response: %w", err)
	}

	segments := make([]types.TranscriptSegment, 0, len(parsed.Chunks))
	for _, chunk := range parsed.Chunks {
		start, end := chunkBounds(chunk.Timestamp)
		segments = append(segments, types.TranscriptSegment{
			Start: start,
			End:   end,
			Text:  chunk.Text,
		})
	}

	// Preserve the undecoded response for the analysis artifact.
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = string(body)
	}

	return &types.TranscriptResult{
		Text:     parsed.Text,
		Segments: segments,
		Language: parsed.Language,
		Raw:      raw,
	}, nil
}

// chunkBounds resolves a chunk's [start, end] pair. A missing end collapses
// to start; a fully missing timestamp yields (0, 0).
func chunkBounds(ts []*float64) (start, end float64) {
	if len(ts) > 0 && ts[0] != nil {
		start = *ts[0]
	}
	end = start
	if len(ts) > 1 && ts[1] != nil {
		end = *ts[1]
	}
	return start, end
}
