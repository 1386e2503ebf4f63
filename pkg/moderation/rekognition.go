package moderation

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/vigil-video/vigil/pkg/types"
)

// minConfidence is the lowest label confidence (percent) Rekognition is asked
// to report.
const minConfidence = 60

// flagThreshold is the threshold recorded on flags produced from moderation
// labels. Any label that survives minConfidence is treated as fired.
const flagThreshold = 0.6

// rekognitionAPI is the slice of the Rekognition client the moderator uses.
type rekognitionAPI interface {
	DetectModerationLabels(ctx context.Context, params *rekognition.DetectModerationLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectModerationLabelsOutput, error)
}

// Compile-time assertion that Rekognition implements Moderator.
var _ Moderator = (*Rekognition)(nil)

// Rekognition implements Moderator with AWS Rekognition moderation labels.
type Rekognition struct {
	client rekognitionAPI
}

// NewRekognition wraps an existing Rekognition client.
func NewRekognition(client *rekognition.Client) *Rekognition {
	return &Rekognition{client: client}
}

// newRekognitionWithAPI wires a caller-supplied client. Used in tests.
func newRekognitionWithAPI(client rekognitionAPI) *Rekognition {
	return &Rekognition{client: client}
}

// Moderate implements Moderator.
func (r *Rekognition) Moderate(ctx context.Context, image []byte) ([]types.SafetyFlag, error) {
	out, err := r.client.DetectModerationLabels(ctx, &rekognition.DetectModerationLabelsInput{
		Image:         &rektypes.Image{Bytes: image},
		MinConfidence: aws.Float32(minConfidence),
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: detect labels: %w", err)
	}
	return MapModerationLabels(out.ModerationLabels), nil
}

// MapModerationLabels converts Rekognition moderation labels to safety
// flags. Nudity-family labels map to a nudity flag, rude-gesture labels to a
// profanity flag; everything else is ignored.
func MapModerationLabels(labels []rektypes.ModerationLabel) []types.SafetyFlag {
	var flags []types.SafetyFlag

	if label, ok := findLabel(labels, "Explicit Nudity", "Suggestive"); ok {
		flags = append(flags, labelFlag(types.FlagNudity, label))
	}
	if label, ok := findLabel(labels, "Rude Gestures", "Middle Finger"); ok {
		flags = append(flags, labelFlag(types.FlagProfanity, label))
	}
	return flags
}

// findLabel returns the first label whose Name or ParentName matches any of
// the given names.
func findLabel(labels []rektypes.ModerationLabel, names ...string) (rektypes.ModerationLabel, bool) {
	for _, label := range labels {
		for _, name := range names {
			if aws.ToString(label.Name) == name || aws.ToString(label.ParentName) == name {
				return label, true
			}
		}
	}
	return rektypes.ModerationLabel{}, false
}

func labelFlag(kind types.FlagKind, label rektypes.ModerationLabel) types.SafetyFlag {
	return types.SafetyFlag{
		Kind:      kind,
		Score:     float64(aws.ToFloat32(label.Confidence)) / 100,
		Threshold: flagThreshold,
		Flagged:   true,
		Details:   map[string]any{"label": aws.ToString(label.Name)},
	}
}
