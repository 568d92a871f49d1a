// Package google provides a base-voice tts.Synthesizer backed by Google Cloud
// Text-to-Speech. Authentication uses Application Default Credentials unless
// a service-account file is configured.
package google

import (
	"context"
	"errors"
	"fmt"

	gctts "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Provider)(nil)

// Defaults applied by New.
const (
	DefaultLanguageCode = "ru-RU"
	DefaultVoice        = "ru-RU-Wavenet-A"
	DefaultSampleRate   = 24000
)

// SpeechClient is the subset of the Cloud TTS client the Provider uses.
// *texttospeech.Client satisfies it.
type SpeechClient interface {
	SynthesizeSpeech(ctx context.Context, req *ttspb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*ttspb.SynthesizeSpeechResponse, error)
	Close() error
}

// Config selects the voice and credentials.
type Config struct {
	// LanguageCode is a BCP-47 tag ("ru-RU"). Requests with a two-letter
	// language override the language part only when no voice is set.
	LanguageCode string `yaml:"language_code" mapstructure:"language_code"`

	// Voice is a Cloud TTS voice name ("ru-RU-Wavenet-A").
	Voice string `yaml:"voice" mapstructure:"voice"`

	// CredentialsFile is an optional service-account JSON path.
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`

	// SampleRate is the LINEAR16 output rate. Defaults to 24000.
	SampleRate int `yaml:"sample_rate" mapstructure:"sample_rate"`

	// SpeakingRate is the speed multiplier (0.25 to 4). Zero keeps the default.
	SpeakingRate float64 `yaml:"speaking_rate" mapstructure:"speaking_rate"`
}

// Provider synthesises speech with Google Cloud TTS.
type Provider struct {
	client SpeechClient
	cfg    Config
}

// New dials the Cloud TTS API.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gctts.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google tts: create client: %w", err)
	}
	return NewWithClient(client, cfg)
}

// NewWithClient wraps an existing client. Tests use it with a fake.
func NewWithClient(client SpeechClient, cfg Config) (*Provider, error) {
	if client == nil {
		return nil, errors.New("google tts: client must not be nil")
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = DefaultLanguageCode
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Provider{client: client, cfg: cfg}, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Synthesize implements tts.Synthesizer. req.ReferencePath is ignored.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := p.client.SynthesizeSpeech(ctx, &ttspb.SynthesizeSpeechRequest{
		Input: &ttspb.SynthesisInput{InputSource: &ttspb.SynthesisInput_Text{Text: req.Text}},
		Voice: &ttspb.VoiceSelectionParams{
			LanguageCode: p.cfg.LanguageCode,
			Name:         p.cfg.Voice,
		},
		AudioConfig: &ttspb.AudioConfig{
			AudioEncoding:   ttspb.AudioEncoding_LINEAR16,
			SampleRateHertz: int32(p.cfg.SampleRate),
			SpeakingRate:    p.cfg.SpeakingRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google tts: synthesize: %w", err)
	}

	content := resp.GetAudioContent()
	if len(content) == 0 {
		return nil, errors.New("google tts: empty audio content")
	}
	// LINEAR16 responses normally carry a WAV header already.
	if audio.IsWAV(content) {
		return content, nil
	}
	return audio.WrapPCM(content, p.cfg.SampleRate, 1), nil
}
