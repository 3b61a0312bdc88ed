package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/polly"
	"github.com/aws/aws-sdk-go/service/polly/pollyiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecall-platform/internal/config"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

const fakeEspeak = `
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -w) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
cat > /dev/null
printf 'RIFFfakewave' > "$out"
`

func requireNoFile(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	require.True(t, errors.Is(err, os.ErrNotExist), "expected %s to be absent, stat err=%v", path, err)
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".tts-*"))
	require.Empty(t, matches, "temp files left behind")
}

func TestEspeak_WritesFile(t *testing.T) {
	bin := writeScript(t, "espeak", fakeEspeak)
	dest := filepath.Join(t.TempDir(), "c1.wav")

	p := NewEspeak(bin, "", 5*time.Second)
	require.NoError(t, p.Synthesize(context.Background(), "Hello", dest))

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "RIFFfakewave", string(b))
	_, err = os.Stat(dest + ".partial")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEspeak_FailureLeavesNoFile(t *testing.T) {
	bin := writeScript(t, "espeak", "echo 'no voice' >&2\nexit 1\n")
	dest := filepath.Join(t.TempDir(), "c1.wav")

	err := NewEspeak(bin, "", 5*time.Second).Synthesize(context.Background(), "Hello", dest)
	require.ErrorIs(t, err, ErrSynthesisFailed)
	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "espeak", se.Provider)
	assert.Contains(t, err.Error(), "no voice")
	requireNoFile(t, dest)
	_, statErr := os.Stat(dest + ".partial")
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestEspeak_MissingBinary(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "c1.wav")
	err := NewEspeak(filepath.Join(t.TempDir(), "nope"), "", time.Second).Synthesize(context.Background(), "Hi", dest)
	require.ErrorIs(t, err, ErrSynthesisFailed)
	requireNoFile(t, dest)
}

func TestGoogle_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k123", r.URL.Query().Get("key"))
		var body googleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello", body.Input.Text)
		assert.Equal(t, "en-US", body.Voice.LanguageCode)
		_ = json.NewEncoder(w).Encode(googleResponse{AudioContent: base64.StdEncoding.EncodeToString([]byte("ID3mp3"))})
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "c1.mp3")
	p := NewGoogle("k123", "", time.Second, WithEndpoint(srv.URL), WithRetry(0, time.Millisecond))
	require.NoError(t, p.Synthesize(context.Background(), "Hello", dest))

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ID3mp3", string(b))
}

func TestGoogle_ErrorStatusLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "API key not valid", http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "c1.mp3")
	err := NewGoogle("bad", "", time.Second, WithEndpoint(srv.URL), WithRetry(0, time.Millisecond)).
		Synthesize(context.Background(), "Hello", dest)

	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "google", se.Provider)
	assert.Contains(t, err.Error(), "403")
	requireNoFile(t, dest)
}

func TestGoogle_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"audioContent": "%%%not-base64"}`))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "c1.mp3")
	err := NewGoogle("k", "", time.Second, WithEndpoint(srv.URL), WithRetry(0, time.Millisecond)).
		Synthesize(context.Background(), "Hello", dest)
	require.ErrorIs(t, err, ErrSynthesisFailed)
	requireNoFile(t, dest)
}

func TestGoogle_TimeoutKeepsCauseAndHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "c1.mp3")
	err := NewGoogle("sekret/key+1", "", 50*time.Millisecond, WithEndpoint(srv.URL), WithRetry(0, time.Millisecond)).
		Synthesize(context.Background(), "Hello", dest)

	require.ErrorIs(t, err, ErrSynthesisFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "deadline exceeded")
	assert.NotContains(t, err.Error(), "sekret")
	requireNoFile(t, dest)
}

func TestAzure_SendsEscapedSSML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "az-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.Equal(t, "application/ssml+xml", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(b), "Tom &amp; Jerry &lt;3")
		assert.Contains(t, string(b), `name="en-US-AriaNeural"`)
		_, _ = w.Write([]byte("mp3bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "c1.mp3")
	p := NewAzure("az-key", "westeurope", "", time.Second, WithEndpoint(srv.URL), WithRetry(0, time.Millisecond))
	require.NoError(t, p.Synthesize(context.Background(), "Tom & Jerry <3", dest))
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "mp3bytes", string(b))
}

func TestAzure_EmptyBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "c1.mp3")
	err := NewAzure("k", "", "", time.Second, WithEndpoint(srv.URL), WithRetry(0, time.Millisecond)).
		Synthesize(context.Background(), "Hello", dest)
	require.ErrorIs(t, err, ErrSynthesisFailed)
	requireNoFile(t, dest)
}

type fakePolly struct {
	pollyiface.PollyAPI
	in  *polly.SynthesizeSpeechInput
	out *polly.SynthesizeSpeechOutput
	err error
}

func (f *fakePolly) SynthesizeSpeechWithContext(_ aws.Context, in *polly.SynthesizeSpeechInput, _ ...request.Option) (*polly.SynthesizeSpeechOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestPolly_Synthesize(t *testing.T) {
	api := &fakePolly{out: &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(strings.NewReader("pollymp3"))}}
	dest := filepath.Join(t.TempDir(), "c1.mp3")

	require.NoError(t, NewPollyWithAPI(api, "", time.Second).Synthesize(context.Background(), "Hello", dest))
	assert.Equal(t, "Joanna", aws.StringValue(api.in.VoiceId))
	assert.Equal(t, polly.OutputFormatMp3, aws.StringValue(api.in.OutputFormat))
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "pollymp3", string(b))
}

func TestPolly_APIErrorNamesProvider(t *testing.T) {
	api := &fakePolly{err: errors.New("throttled")}
	dest := filepath.Join(t.TempDir(), "c1.mp3")

	err := NewPollyWithAPI(api, "", time.Second).Synthesize(context.Background(), "Hello", dest)
	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "polly", se.Provider)
	requireNoFile(t, dest)
}

func TestRegistry_FallsBackWithoutCredential(t *testing.T) {
	for _, requested := range []string{config.TTSProviderGoogle, config.TTSProviderAzure, config.TTSProviderPolly} {
		r, err := NewRegistry(config.TTSConfig{Provider: requested, Timeout: time.Second}, nil)
		require.NoError(t, err)
		sel := r.Selection()
		assert.Equal(t, requested, sel.Requested)
		assert.Equal(t, "espeak", sel.Active)
		assert.True(t, sel.FellBack)
		assert.Equal(t, "espeak", r.Active().Name())
	}
}

func TestRegistry_NoCredentialStillSynthesizes(t *testing.T) {
	bin := writeScript(t, "espeak", fakeEspeak)
	r, err := NewRegistry(config.TTSConfig{Provider: config.TTSProviderAzure, EspeakBinary: bin, Timeout: time.Second}, nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out."+r.Active().Format())
	require.NoError(t, r.Active().Synthesize(context.Background(), "Hello", dest))
}

func TestRegistry_UsesConfiguredCloudProvider(t *testing.T) {
	r, err := NewRegistry(config.TTSConfig{Provider: config.TTSProviderGoogle, GoogleAPIKey: "k", Timeout: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, "google", r.Active().Name())
	assert.False(t, r.Selection().FellBack)

	_, ok := r.Lookup(config.TTSProviderAzure)
	assert.False(t, ok, "azure has no credential and must not be built")
}
