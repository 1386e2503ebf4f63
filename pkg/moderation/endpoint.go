package moderation

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

// Compile-time assertion that EndpointClient implements Moderator.
var _ Moderator = (*EndpointClient)(nil)

// EndpointClient implements Moderator by posting frames to the server-hosted
// moderation endpoint as base64 data URLs. This is the path the realtime
// monitor takes; the server decodes the body and forwards it to Rekognition.
type EndpointClient struct {
	endpoint   string
	httpClient *http.Client
}

// ClientOption is a functional option for configuring an EndpointClient.
type ClientOption func(*EndpointClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *EndpointClient) { c.httpClient = client }
}

// NewEndpointClient creates a client posting to endpoint
// (e.g. "https://host/api/safety/detect-moderation").
func NewEndpointClient(endpoint string, opts ...ClientOption) *EndpointClient {
	c := &EndpointClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type moderationRequest struct {
	Image string `json:"image"`
}

type moderationResponse struct {
	Flags []types.SafetyFlag `json:"flags"`
}

// Moderate implements Moderator.
func (c *EndpointClient) Moderate(ctx context.Context, image []byte) ([]types.SafetyFlag, error) {
	body, err := json.Marshal(moderationRequest{Image: EncodeDataURL(image)})
	if err != nil {
		return nil, fmt.Errorf("moderation: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("moderation: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("moderation: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("moderation: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moderation: endpoint returned HTTP %d: %s", resp.StatusCode, data)
	}

	var parsed moderationResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("moderation: parse response: %w", err)
	}
	return parsed.Flags, nil
}
