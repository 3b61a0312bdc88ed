package tts

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/polly"
	"github.com/aws/aws-sdk-go/service/polly/pollyiface"
)

// Polly synthesizes through AWS Polly using static credentials.
type Polly struct {
	api     pollyiface.PollyAPI
	voice   string
	timeout time.Duration
}

var _ Provider = (*Polly)(nil)

type PollyConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Voice     string
	Timeout   time.Duration

	// Endpoint overrides the AWS endpoint. Tests only.
	Endpoint string
}

func NewPolly(cfg PollyConfig) (*Polly, error) {
	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		MaxRetries:  aws.Int(2),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.DisableSSL = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}
	return NewPollyWithAPI(polly.New(sess), cfg.Voice, cfg.Timeout), nil
}

func NewPollyWithAPI(api pollyiface.PollyAPI, voice string, timeout time.Duration) *Polly {
	if voice == "" {
		voice = "Joanna"
	}
	return &Polly{api: api, voice: voice, timeout: timeout}
}

func (p *Polly) Name() string   { return "polly" }
func (p *Polly) Format() string { return "mp3" }

func (p *Polly) Synthesize(ctx context.Context, text, dest string) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.api.SynthesizeSpeechWithContext(ctx, &polly.SynthesizeSpeechInput{
		OutputFormat: aws.String(polly.OutputFormatMp3),
		Text:         aws.String(text),
		VoiceId:      aws.String(p.voice),
	})
	if err != nil {
		return synthesisErr(p.Name(), err)
	}
	if out.AudioStream == nil {
		return synthesisErr(p.Name(), errors.New("response has no audio stream"))
	}
	defer out.AudioStream.Close()
	if err := writeAtomic(dest, out.AudioStream); err != nil {
		return synthesisErr(p.Name(), err)
	}
	return nil
}
