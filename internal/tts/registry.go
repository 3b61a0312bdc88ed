package tts

import (
	"fmt"
	"log/slog"

	"voicecall-platform/internal/config"
)

// Selection records which provider was asked for and which one is serving.
type Selection struct {
	Requested string `json:"requested"`
	Active    string `json:"active"`
	FellBack  bool   `json:"fell_back"`
}

// Registry holds every provider that could be built from configuration and the
// one chosen to serve. The choice is made once, in NewRegistry.
type Registry struct {
	providers map[string]Provider
	active    Provider
	selection Selection
}

// NewRegistry builds espeak unconditionally and each cloud provider whose credential
// is present. When the requested provider has no credential the registry falls back to espeak.
func NewRegistry(cfg config.TTSConfig, log *slog.Logger, opts ...HTTPOption) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{providers: map[string]Provider{}}

	espeak := NewEspeak(cfg.EspeakBinary, "", cfg.Timeout)
	r.providers[espeak.Name()] = espeak

	httpOpts := append([]HTTPOption{WithLogger(log)}, opts...)
	if cfg.GoogleAPIKey != "" {
		r.providers[config.TTSProviderGoogle] = NewGoogle(cfg.GoogleAPIKey, cfg.Voice, cfg.Timeout, httpOpts...)
	}
	if cfg.AzureKey != "" {
		r.providers[config.TTSProviderAzure] = NewAzure(cfg.AzureKey, cfg.AzureRegion, cfg.Voice, cfg.Timeout, httpOpts...)
	}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		p, err := NewPolly(PollyConfig{
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
			Region:    cfg.AWSRegion,
			Voice:     cfg.Voice,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("tts: polly session: %w", err)
		}
		r.providers[config.TTSProviderPolly] = p
	}

	requested := cfg.Provider
	if requested == "" {
		requested = config.TTSProviderEspeak
	}
	r.selection.Requested = requested
	if p, ok := r.providers[requested]; ok {
		r.active = p
	} else {
		r.active = espeak
		r.selection.FellBack = true
		log.Warn("tts provider credential missing, using espeak", "requested", requested)
	}
	r.selection.Active = r.active.Name()
	return r, nil
}

func (r *Registry) Active() Provider { return r.active }

func (r *Registry) Selection() Selection { return r.selection }

// Lookup returns a built provider by name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
