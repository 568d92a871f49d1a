// Package gemini provides a base-voice tts.Synthesizer backed by the Gemini
// speech generation models. The output is a prebuilt voice; pair it with a
// tts.Converter to speak in an enrolled voice.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
	gapi "github.com/MrWong99/vocalis/pkg/provider/gemini"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Provider)(nil)

// Defaults applied by New.
const (
	DefaultModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice = "Aoede"

	defaultTimeout    = 60 * time.Second
	defaultSampleRate = 24000
)

// ErrNoAudio is returned when the response carries no inline audio.
var ErrNoAudio = errors.New("gemini: response contains no audio")

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the API root. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithVoice selects the prebuilt voice. Defaults to "Aoede".
func WithVoice(v string) Option {
	return func(p *Provider) { p.voice = v }
}

// WithTimeout sets the request timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// Provider synthesises speech with a Gemini TTS model.
type Provider struct {
	client  *gapi.Client
	model   string
	voice   string
	baseURL string
	timeout time.Duration
}

// New returns a Provider. An empty model uses DefaultModel.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{model: model, voice: DefaultVoice, timeout: defaultTimeout}
	for _, o := range opts {
		o(p)
	}
	client, err := gapi.NewClient(p.baseURL, apiKey, p.timeout)
	if err != nil {
		return nil, err
	}
	p.client = client
	return p, nil
}

// ---- request types ----

type speechRequest struct {
	Contents         []gapi.Content   `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// Synthesize implements tts.Synthesizer. req.ReferencePath is ignored.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := speechRequest{
		Contents: []gapi.Content{{Role: "user", Parts: []gapi.Part{{Text: req.Text}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: p.voice},
			}},
		},
	}

	resp, err := p.client.Generate(ctx, p.model, body)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrNoAudio
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("gemini tts: decode audio: %w", err)
		}
		if audio.IsWAV(raw) {
			return raw, nil
		}
		return audio.WrapPCM(raw, sampleRate(part.InlineData.MimeType), 1), nil
	}
	return nil, ErrNoAudio
}

// sampleRate parses the rate parameter of an "audio/L16;codec=pcm;rate=24000"
// MIME type, falling back to 24 kHz.
func sampleRate(mimeType string) int {
	_, params, err := mime.ParseMediaType(strings.ReplaceAll(mimeType, " ", ""))
	if err != nil {
		return defaultSampleRate
	}
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		return r
	}
	return defaultSampleRate
}
