// Package audio prepares call audio for the telephony leg.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"voicecall-platform/pkg/logger"
)

const (
	SampleRate = 8000
	Channels   = 1
)

var ErrTranscode = errors.New("audio: transcode failed")

// Result is the outcome of Normalize. Path is always usable: on failure it is the
// untouched input and Degraded is set.
type Result struct {
	Path     string
	Degraded bool
	Err      error
}

// Transcoder resamples any input to 8 kHz mono 16-bit PCM WAV through ffmpeg.
type Transcoder struct {
	binary  string
	timeout time.Duration
}

func NewTranscoder(binary string, timeout time.Duration) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{binary: binary, timeout: timeout}
}

// OutputPath is the deterministic target for in: same directory and stem, ".8k.wav" suffix.
func OutputPath(in string) string {
	return strings.TrimSuffix(in, filepath.Ext(in)) + ".8k.wav"
}

// Normalize never fails the caller. Inputs already in WAV are resampled anyway.
func (t *Transcoder) Normalize(ctx context.Context, in string) Result {
	out := OutputPath(in)
	err := t.run(ctx, in, out)
	if err == nil {
		return Result{Path: out}
	}
	logger.From(ctx).Warn("audio normalization degraded, using original file",
		slog.String("input", in),
		slog.String("error", err.Error()),
	)
	return Result{Path: in, Degraded: true, Err: err}
}

func (t *Transcoder) run(ctx context.Context, in, out string) error {
	if _, err := os.Stat(in); err != nil {
		return fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tmp := out + ".partial"
	defer os.Remove(tmp)

	cmd := exec.CommandContext(ctx, t.binary,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", in,
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		tmp,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		if msg != "" {
			return fmt.Errorf("%w: %w: %s", ErrTranscode, err, msg)
		}
		return fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	if fi, err := os.Stat(tmp); err != nil || fi.Size() == 0 {
		return fmt.Errorf("%w: no output produced", ErrTranscode)
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	return nil
}
