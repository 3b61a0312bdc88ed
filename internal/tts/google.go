package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const googleEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"

// Google calls the Cloud Text-to-Speech REST API with an API key.
type Google struct {
	client   *retryablehttp.Client
	endpoint string
	apiKey   string
	voice    string
	timeout  time.Duration
}

var _ Provider = (*Google)(nil)

func NewGoogle(apiKey, voice string, timeout time.Duration, opts ...HTTPOption) *Google {
	o := newHTTPOptions(googleEndpoint, opts)
	if voice == "" {
		voice = "en-US-Standard-A"
	}
	return &Google{
		client:   o.client(),
		endpoint: o.endpoint,
		apiKey:   apiKey,
		voice:    voice,
		timeout:  timeout,
	}
}

func (p *Google) Name() string   { return "google" }
func (p *Google) Format() string { return "mp3" }

type googleRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string `json:"audioEncoding"`
	} `json:"audioConfig"`
}

type googleResponse struct {
	AudioContent string `json:"audioContent"`
}

func (p *Google) Synthesize(ctx context.Context, text, dest string) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	var body googleRequest
	body.Input.Text = text
	body.Voice.LanguageCode = languageOf(p.voice)
	body.Voice.Name = p.voice
	body.AudioConfig.AudioEncoding = "MP3"
	payload, err := json.Marshal(body)
	if err != nil {
		return synthesisErr(p.Name(), err)
	}

	u := p.endpoint + "?key=" + url.QueryEscape(p.apiKey)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return synthesisErr(p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// the request URL carries the key
		return synthesisErr(p.Name(), &redactedError{err: err, secret: p.apiKey})
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return synthesisErr(p.Name(), statusError(resp))
	}

	var out googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return synthesisErr(p.Name(), fmt.Errorf("decode response: %w", err))
	}
	if out.AudioContent == "" {
		return synthesisErr(p.Name(), errors.New("response has no audioContent"))
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return synthesisErr(p.Name(), fmt.Errorf("decode audio: %w", err))
	}
	if err := writeAtomic(dest, bytes.NewReader(audio)); err != nil {
		return synthesisErr(p.Name(), err)
	}
	return nil
}

// HTTPOption adjusts the HTTP-backed providers. Mostly for tests.
type HTTPOption func(*httpOptions)

type httpOptions struct {
	endpoint string
	logger   *slog.Logger
	retryMax int
	waitMin  time.Duration
}

func WithEndpoint(u string) HTTPOption { return func(o *httpOptions) { o.endpoint = u } }

func WithLogger(l *slog.Logger) HTTPOption { return func(o *httpOptions) { o.logger = l } }

func WithRetry(max int, waitMin time.Duration) HTTPOption {
	return func(o *httpOptions) {
		o.retryMax = max
		o.waitMin = waitMin
	}
}

func newHTTPOptions(endpoint string, opts []HTTPOption) httpOptions {
	o := httpOptions{endpoint: endpoint, retryMax: 2, waitMin: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o httpOptions) client() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = o.retryMax
	c.RetryWaitMin = o.waitMin
	if c.RetryWaitMax < o.waitMin {
		c.RetryWaitMax = o.waitMin
	}
	if o.logger != nil {
		c.Logger = o.logger
	} else {
		c.Logger = nil
	}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
}

// redactedError masks secret in the wrapped error's text while keeping the
// cause inspectable with errors.Is.
type redactedError struct {
	err    error
	secret string
}

func (e *redactedError) Error() string {
	msg := e.err.Error()
	if e.secret == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, url.QueryEscape(e.secret), "REDACTED")
	return strings.ReplaceAll(msg, e.secret, "REDACTED")
}

func (e *redactedError) Unwrap() error { return e.err }

// languageOf derives "en-US" from a voice name like "en-US-Standard-A".
func languageOf(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}
