package liveness

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// Device selects the inference device requested from a model sidecar.
type Device string

const (
	DeviceGPU Device = "gpu"
	DeviceCPU Device = "cpu"
)

// httpClientTimeout bounds a single inference round trip. Slow inferences are
// handled by the monitor's backpressure, not by queueing.
const httpClientTimeout = 15 * time.Second

// loadModel asks the sidecar at baseURL to load its model on the given
// device. Sidecars expose POST /load accepting {"device": "gpu"|"cpu"}.
func loadModel(ctx context.Context, client *http.Client, baseURL string, device Device) error {
	body, _ := json.Marshal(map[string]string{"device": string(device)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/load", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("liveness: create load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("liveness: load model: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("liveness: model server returned HTTP %d for device %s", resp.StatusCode, device)
	}
	return nil
}

// loadPreferGPU loads the sidecar model on GPU, falling back to CPU when the
// GPU load fails.
func loadPreferGPU(ctx context.Context, client *http.Client, baseURL string) (Device, error) {
	if err := loadModel(ctx, client, baseURL, DeviceGPU); err == nil {
		return DeviceGPU, nil
	} else {
		slog.Warn("liveness: GPU model load failed, falling back to CPU", "server", baseURL, "err", err)
	}
	if err := loadModel(ctx, client, baseURL, DeviceCPU); err != nil {
		return "", err
	}
	return DeviceCPU, nil
}

// ── Face sidecar ──────────────────────────────────────────────────────────────

// Compile-time assertion that FaceHTTP implements FaceAnalyzer.
var _ FaceAnalyzer = (*FaceHTTP)(nil)

// faceBaseScore is the liveness score assigned when at least one face is
// present. Blink activity is reported alongside for the caller to accumulate.
const faceBaseScore = 0.9

// FaceHTTP implements FaceAnalyzer against a face-landmarker model server
// exposing POST /detect (JPEG body in, landmarks plus blendshapes out).
type FaceHTTP struct {
	baseURL    string
	device     Device
	httpClient *http.Client
}

// NewFaceHTTP connects to the face model server at baseURL and loads the
// landmarker with blendshapes, preferring the GPU.
func NewFaceHTTP(ctx context.Context, baseURL string) (*FaceHTTP, error) {
	client := &http.Client{Timeout: httpClientTimeout}
	device, err := loadPreferGPU(ctx, client, baseURL)
	if err != nil {
		return nil, fmt.Errorf("liveness: face model: %w", err)
	}
	return &FaceHTTP{baseURL: baseURL, device: device, httpClient: client}, nil
}

// Device reports which device the model ended up on.
func (f *FaceHTTP) Device() Device { return f.device }

type faceDetectResponse struct {
	Faces []struct {
		Blendshapes map[string]float64 `json:"blendshapes"`
	} `json:"faces"`
}

// Detect implements FaceAnalyzer.
func (f *FaceHTTP) Detect(ctx context.Context, jpeg []byte) (FaceResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/detect", bytes.NewReader(jpeg))
	if err != nil {
		return FaceResult{}, fmt.Errorf("liveness: create detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return FaceResult{}, fmt.Errorf("liveness: detect: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return FaceResult{}, fmt.Errorf("liveness: read detect response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return FaceResult{}, fmt.Errorf("liveness: face server returned HTTP %d", resp.StatusCode)
	}

	var parsed faceDetectResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return FaceResult{}, fmt.Errorf("liveness: parse detect response: %w", err)
	}

	if len(parsed.Faces) == 0 {
		return FaceResult{Detected: false, Score: 0}, nil
	}
	shapes := parsed.Faces[0].Blendshapes
	return FaceResult{
		Detected:   true,
		Score:      faceBaseScore,
		BlinkLeft:  shapes["eyeBlinkLeft"],
		BlinkRight: shapes["eyeBlinkRight"],
	}, nil
}

// ── Voice sidecar ─────────────────────────────────────────────────────────────

// Compile-time assertion that VoiceHTTP implements VoiceClassifier.
var _ VoiceClassifier = (*VoiceHTTP)(nil)

// VoiceHTTP implements VoiceClassifier against an audio-classification model
// server exposing POST /classify (WAV body in, labelled scores out).
type VoiceHTTP struct {
	baseURL    string
	device     Device
	httpClient *http.Client
}

// NewVoiceHTTP connects to the voice model server at baseURL, preferring the
// GPU and falling back to CPU.
func NewVoiceHTTP(ctx context.Context, baseURL string) (*VoiceHTTP, error) {
	client := &http.Client{Timeout: httpClientTimeout}
	device, err := loadPreferGPU(ctx, client, baseURL)
	if err != nil {
		return nil, fmt.Errorf("liveness: voice model: %w", err)
	}
	return &VoiceHTTP{baseURL: baseURL, device: device, httpClient: client}, nil
}

// Device reports which device the model ended up on.
func (v *VoiceHTTP) Device() Device { return v.device }

// Classify implements VoiceClassifier. The Float32 window is converted to
// 16-bit PCM and wrapped in a WAV container for transport.
func (v *VoiceHTTP) Classify(ctx context.Context, samples []float32) ([]Label, error) {
	wav := EncodeWAV(Float32ToPCM16(samples), 16000, 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/classify", bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("liveness: create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("liveness: classify: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("liveness: read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("liveness: voice server returned HTTP %d", resp.StatusCode)
	}

	var labels []Label
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("liveness: parse classify response: %w", err)
	}
	return labels, nil
}

// Float32ToPCM16 converts normalised Float32 samples to 16-bit signed
// little-endian PCM bytes, clamping out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
