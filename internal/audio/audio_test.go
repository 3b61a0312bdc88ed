package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg accepts inputs that look like RIFF or ID3 audio and records its argv.
const fakeFFmpeg = `#!/bin/sh
in=""
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
if [ -n "$FFMPEG_ARGS_FILE" ]; then echo "$@" > "$FFMPEG_ARGS_FILE"; fi
if ! grep -q -e RIFF -e ID3 "$in"; then
  echo "Invalid data found when processing input" >&2
  exit 1
fi
printf 'RIFF8kmono' > "$out"
`

func ffmpegBin(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(p, []byte(fakeFFmpeg), 0o755))
	return p
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "/a/b/c1.8k.wav", OutputPath("/a/b/c1.mp3"))
	assert.Equal(t, "/a/b/c1.8k.wav", OutputPath("/a/b/c1.wav"))
	assert.Equal(t, "/a/b/c1.8k.8k.wav", OutputPath("/a/b/c1.8k.wav"))
}

func TestNormalize_ResamplesEvenWAV(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	t.Setenv("FFMPEG_ARGS_FILE", argsFile)

	in := filepath.Join(dir, "c1.wav")
	require.NoError(t, os.WriteFile(in, []byte("RIFFsource"), 0o644))

	res := NewTranscoder(ffmpegBin(t), 5*time.Second).Normalize(context.Background(), in)
	require.NoError(t, res.Err)
	assert.False(t, res.Degraded)
	assert.Equal(t, filepath.Join(dir, "c1.8k.wav"), res.Path)

	b, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "RIFF8kmono", string(b))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	for _, want := range []string{"-ar 8000", "-ac 1", "-acodec pcm_s16le", "-f wav"} {
		assert.Contains(t, string(args), want)
	}
	src, _ := os.ReadFile(in)
	assert.Equal(t, "RIFFsource", string(src), "input must be untouched")
}

func TestNormalize_UndecodableInputReturnsOriginal(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "c1.mp3")
	require.NoError(t, os.WriteFile(in, []byte("this is not audio"), 0o644))

	res := NewTranscoder(ffmpegBin(t), 5*time.Second).Normalize(context.Background(), in)
	assert.True(t, res.Degraded)
	assert.Equal(t, in, res.Path)
	require.ErrorIs(t, res.Err, ErrTranscode)
	assert.Contains(t, res.Err.Error(), "Invalid data")

	_, err := os.Stat(OutputPath(in))
	assert.True(t, errors.Is(err, os.ErrNotExist), "no output expected")
}

func TestNormalize_MissingBinaryDegrades(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "c1.wav")
	require.NoError(t, os.WriteFile(in, []byte("RIFF"), 0o644))

	res := NewTranscoder(filepath.Join(dir, "missing-ffmpeg"), time.Second).Normalize(context.Background(), in)
	assert.True(t, res.Degraded)
	assert.Equal(t, in, res.Path)
}

func TestFetch_SavesWithSourceExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ID3remote"))
	}))
	defer srv.Close()

	stem := filepath.Join(t.TempDir(), "c1")
	got, err := NewFetcher(1024, time.Second).Fetch(context.Background(), srv.URL+"/greeting.MP3", stem)
	require.NoError(t, err)
	assert.Equal(t, stem+".mp3", got)
	b, _ := os.ReadFile(got)
	assert.Equal(t, "ID3remote", string(b))
}

func TestFetch_RejectsNonHTTP(t *testing.T) {
	_, err := NewFetcher(1024, time.Second).Fetch(context.Background(), "file:///etc/passwd", filepath.Join(t.TempDir(), "c1"))
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}

func TestFetch_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher(1024, time.Second).Fetch(context.Background(), srv.URL+"/x.wav", filepath.Join(t.TempDir(), "c1"))
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestFetch_EnforcesSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		// chunked, so the limit is hit while streaming
		for i := 0; i < 4; i++ {
			_, _ = w.Write([]byte(strings.Repeat("x", 16)))
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewFetcher(32, time.Second).Fetch(context.Background(), srv.URL+"/big.wav", filepath.Join(dir, "c1"))
	require.ErrorIs(t, err, ErrSourceTooLarge)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "partial download must be removed")
}
