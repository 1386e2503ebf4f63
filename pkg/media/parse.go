package media

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// ProbeReport holds the subset of ffprobe output the pipeline cares about:
// the first video stream, the first audio stream, and the container duration.
// Pointer fields are nil when ffprobe did not report a value.
type ProbeReport struct {
	Width            *int
	Height           *int
	FPS              *float64
	DurationSec      *float64
	VideoBitrateKbps *float64
	AudioBitrateKbps *float64
}

// LoudnessReport holds the volumedetect summary. Values are dBFS and
// therefore negative for anything below full scale.
type LoudnessReport struct {
	MeanDb *float64
	MaxDb  *float64
}

// ffprobe -print_format json shapes. Numeric fields arrive as strings.
type probeJSON struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		BitRate   string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseProbeOutput decodes ffprobe JSON output into a ProbeReport. It picks
// the first video and first audio stream, ignoring the rest.
func ParseProbeOutput(data string) (*ProbeReport, error) {
	var parsed probeJSON
	if err := json.Unmarshal([]byte(data), &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	report := &ProbeReport{}
	for i := range parsed.Streams {
		s := &parsed.Streams[i]
		switch s.CodecType {
		case "video":
			if report.Width != nil {
				continue
			}
			if s.Width > 0 {
				w := s.Width
				report.Width = &w
			}
			if s.Height > 0 {
				h := s.Height
				report.Height = &h
			}
			report.FPS = ParseRational(s.RFrameRate)
			if kbps := parseKbps(s.BitRate); kbps != nil {
				report.VideoBitrateKbps = kbps
			}
		case "audio":
			if report.AudioBitrateKbps == nil {
				report.AudioBitrateKbps = parseKbps(s.BitRate)
			}
		}
	}

	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			report.DurationSec = &d
		}
	}
	return report, nil
}

// ParseRational parses a frame rate expressed as "num/den" (ffprobe's
// r_frame_rate). A plain number is accepted as-is; non-numeric input and a
// zero denominator yield nil.
func ParseRational(value string) *float64 {
	if value == "" {
		return nil
	}
	if num, den, ok := splitFraction(value); ok {
		if den == 0 {
			return nil
		}
		v := num / den
		return &v
	}
	if v, err := strconv.ParseFloat(value, 64); err == nil {
		return &v
	}
	return nil
}

func splitFraction(value string) (num, den float64, ok bool) {
	for i := 0; i < len(value); i++ {
		if value[i] != '/' {
			continue
		}
		n, err1 := strconv.ParseFloat(value[:i], 64)
		d, err2 := strconv.ParseFloat(value[i+1:], 64)
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return n, d, true
	}
	return 0, 0, false
}

// parseKbps converts ffprobe's bit_rate string (bits per second) to kbps.
func parseKbps(value string) *float64 {
	if value == "" {
		return nil
	}
	bps, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	kbps := bps / 1000
	return &kbps
}

var (
	meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?\d+(?:\.\d+)?) dB`)
	maxVolumeRe  = regexp.MustCompile(`max_volume:\s*(-?\d+(?:\.\d+)?) dB`)
)

// ParseVolumeDetect extracts the mean_volume and max_volume lines from
// ffmpeg volumedetect output. Missing lines leave the corresponding field nil.
func ParseVolumeDetect(data string) *LoudnessReport {
	report := &LoudnessReport{}
	if m := meanVolumeRe.FindStringSubmatch(data); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			report.MeanDb = &v
		}
	}
	if m := maxVolumeRe.FindStringSubmatch(data); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			report.MaxDb = &v
		}
	}
	return report
}
