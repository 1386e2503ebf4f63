// Package moderation provides image-moderation backends for the realtime
// safety monitor.
//
// Two implementations exist: Rekognition, which calls AWS Rekognition
// directly and backs the server-side /api/safety/detect-moderation endpoint,
// and EndpointClient, which the monitor uses to reach that endpoint with a
// base64 data URL.
package moderation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/vigil-video/vigil/pkg/types"
)

// Moderator classifies a still frame and returns zero or more safety flags.
//
// Implementations must be safe for concurrent use.
type Moderator interface {
	// Moderate takes encoded image bytes (JPEG or PNG) and returns the
	// flags the classifier raised. An empty slice means the frame is clean.
	Moderate(ctx context.Context, image []byte) ([]types.SafetyFlag, error)
}

// ErrNotImageDataURL is returned by DecodeDataURL for payloads that are not
// base64 data URLs with an image/* media type.
var ErrNotImageDataURL = errors.New("moderation: payload is not an image data URL")

// DecodeDataURL strips the data:image/...;base64, prefix and decodes the
// remainder. Non-image media types are rejected.
func DecodeDataURL(payload string) ([]byte, error) {
	prefix, encoded, found := strings.Cut(payload, ",")
	if !found {
		return nil, ErrNotImageDataURL
	}
	if !strings.HasPrefix(prefix, "data:image/") || !strings.HasSuffix(prefix, ";base64") {
		return nil, ErrNotImageDataURL
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("moderation: decode image body: %w", err)
	}
	return data, nil
}

// EncodeDataURL wraps encoded JPEG bytes as a base64 data URL, the body
// format the moderation endpoint expects.
func EncodeDataURL(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}
