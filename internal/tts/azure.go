package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Azure calls the Cognitive Services speech REST endpoint with SSML.
type Azure struct {
	client   *retryablehttp.Client
	endpoint string
	key      string
	voice    string
	timeout  time.Duration
}

var _ Provider = (*Azure)(nil)

func NewAzure(key, region, voice string, timeout time.Duration, opts ...HTTPOption) *Azure {
	if region == "" {
		region = "eastus"
	}
	o := newHTTPOptions(fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region), opts)
	if voice == "" {
		voice = "en-US-AriaNeural"
	}
	return &Azure{
		client:   o.client(),
		endpoint: o.endpoint,
		key:      key,
		voice:    voice,
		timeout:  timeout,
	}
}

func (p *Azure) Name() string   { return "azure" }
func (p *Azure) Format() string { return "mp3" }

func (p *Azure) Synthesize(ctx context.Context, text, dest string) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	ssml, err := p.ssml(text)
	if err != nil {
		return synthesisErr(p.Name(), err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, []byte(ssml))
	if err != nil {
		return synthesisErr(p.Name(), err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", "audio-16khz-32kbitrate-mono-mp3")
	req.Header.Set("User-Agent", "voicecall-platform")

	resp, err := p.client.Do(req)
	if err != nil {
		return synthesisErr(p.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return synthesisErr(p.Name(), statusError(resp))
	}
	if err := writeAtomic(dest, resp.Body); err != nil {
		return synthesisErr(p.Name(), err)
	}
	return nil
}

func (p *Azure) ssml(text string) (string, error) {
	var esc bytes.Buffer
	if err := xml.EscapeText(&esc, []byte(text)); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="`)
	b.WriteString(languageOf(p.voice))
	b.WriteString(`"><voice name="`)
	b.WriteString(p.voice)
	b.WriteString(`">`)
	b.Write(esc.Bytes())
	b.WriteString(`</voice></speak>`)
	return b.String(), nil
}
