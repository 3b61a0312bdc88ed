package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Espeak runs the local espeak binary. It needs no credentials and is always available.
type Espeak struct {
	binary  string
	voice   string
	timeout time.Duration
}

var _ Provider = (*Espeak)(nil)

func NewEspeak(binary, voice string, timeout time.Duration) *Espeak {
	if binary == "" {
		binary = "espeak"
	}
	return &Espeak{binary: binary, voice: voice, timeout: timeout}
}

func (p *Espeak) Name() string   { return "espeak" }
func (p *Espeak) Format() string { return "wav" }

// Synthesize feeds text on stdin so leading dashes are never read as flags.
func (p *Espeak) Synthesize(ctx context.Context, text, dest string) error {
	if strings.TrimSpace(text) == "" {
		return synthesisErr(p.Name(), errors.New("empty text"))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return synthesisErr(p.Name(), err)
	}
	tmp := dest + ".partial"
	defer os.Remove(tmp)

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"--stdin", "-w", tmp}
	if p.voice != "" {
		args = append(args, "-v", p.voice)
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return synthesisErr(p.Name(), err)
	}
	if fi, err := os.Stat(tmp); err != nil || fi.Size() == 0 {
		return synthesisErr(p.Name(), errors.New("espeak produced no audio"))
	}
	if err := os.Rename(tmp, dest); err != nil {
		return synthesisErr(p.Name(), err)
	}
	return nil
}
