// Package media wraps the ffmpeg and ffprobe binaries for the three
// operations the analysis pipeline needs: probing stream metadata, extracting
// a 16 kHz mono PCM audio track, and measuring loudness via volumedetect.
//
// All operations spawn a subprocess. Failures carry the exit code, the argv,
// and the captured standard error so that pipeline logs are actionable
// without re-running the command by hand.
package media

import (
	"context"
	"fmt"
	"strings"

	execute "github.com/alexellis/go-execute/v2"
)

// Transcoder runs ffmpeg/ffprobe subprocesses. The zero value is not usable;
// construct with New.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
}

// Option is a functional option for configuring a Transcoder.
type Option func(*Transcoder)

// WithFfmpegPath overrides the ffmpeg binary path. Defaults to "ffmpeg"
// resolved via PATH.
func WithFfmpegPath(path string) Option {
	return func(t *Transcoder) { t.ffmpegPath = path }
}

// WithFfprobePath overrides the ffprobe binary path. Defaults to "ffprobe"
// resolved via PATH.
func WithFfprobePath(path string) Option {
	return func(t *Transcoder) { t.ffprobePath = path }
}

// New creates a Transcoder with the given options.
func New(opts ...Option) *Transcoder {
	t := &Transcoder{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// CommandError is returned when a spawned subprocess exits non-zero.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("media: command failed (%d): %s\n%s",
		e.ExitCode, strings.Join(e.Argv, " "), e.Stderr)
}

// run executes cmd with args and returns captured stdout and stderr.
func run(ctx context.Context, cmd string, args []string) (stdout, stderr string, err error) {
	task := execute.ExecTask{
		Command: cmd,
		Args:    args,
	}
	res, err := task.Execute(ctx)
	if err != nil {
		return res.Stdout, res.Stderr, fmt.Errorf("media: spawn %s: %w", cmd, err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, res.Stderr, &CommandError{
			Argv:     append([]string{cmd}, args...),
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	return res.Stdout, res.Stderr, nil
}

// Probe extracts stream and container metadata from the media file at path.
func (t *Transcoder) Probe(ctx context.Context, path string) (*ProbeReport, error) {
	stdout, stderr, err := run(ctx, t.ffprobePath, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	})
	if err != nil {
		return nil, err
	}
	out := stdout
	if out == "" {
		out = stderr
	}
	report, err := ParseProbeOutput(out)
	if err != nil {
		return nil, fmt.Errorf("media: probe %s: %w", path, err)
	}
	return report, nil
}

// ExtractAudio writes the audio track of videoPath to audioPath as signed
// 16-bit little-endian PCM, 16 kHz, mono. An existing destination file is
// overwritten.
func (t *Transcoder) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	_, _, err := run(ctx, t.ffmpegPath, []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		audioPath,
	})
	return err
}

// Loudness runs a volumedetect pass over path and returns the parsed mean and
// peak levels in dBFS. Either value is nil when ffmpeg did not report it
// (e.g. the file has no audio stream).
func (t *Transcoder) Loudness(ctx context.Context, path string) (*LoudnessReport, error) {
	// volumedetect writes its summary to stderr; the null muxer discards
	// the decoded frames.
	stdout, stderr, err := run(ctx, t.ffmpegPath, []string{
		"-i", path,
		"-af", "volumedetect",
		"-f", "null",
		"-",
	})
	if err != nil {
		return nil, err
	}
	out := stdout
	if out == "" {
		out = stderr
	}
	report := ParseVolumeDetect(out)
	return report, nil
}
