// Package tts turns text into an audio file through one configured backend.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Provider synthesizes text into an audio file at dest.
//
// On failure a provider leaves nothing at dest and returns a *SynthesisError.
type Provider interface {
	Name() string
	// Format is the file extension of what Synthesize writes, e.g. "wav" or "mp3".
	Format() string
	Synthesize(ctx context.Context, text, dest string) error
}

var ErrSynthesisFailed = errors.New("synthesis failed")

// SynthesisError names the provider that failed. It matches ErrSynthesisFailed with errors.Is.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("tts: %s: synthesis failed: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() []error {
	return []error{ErrSynthesisFailed, e.Err}
}

func synthesisErr(provider string, err error) error {
	return &SynthesisError{Provider: provider, Err: err}
}

// writeAtomic streams r into a temp file next to dest and renames it into place.
// An empty body is treated as a failure.
func writeAtomic(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tts-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("empty audio payload")
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	ok = true
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
