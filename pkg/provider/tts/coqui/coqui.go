// Package coqui provides a voice-cloning tts.Synthesizer backed by a Coqui
// XTTS v2 streaming server (ghcr.io/coqui-ai/xtts-streaming-server).
//
// Cloning happens in two steps. POST /clone_speaker uploads the reference
// recording and returns the speaker latents (gpt_cond_latent and
// speaker_embedding); POST /tts then synthesises text with those latents.
// Computing latents is the expensive part, so the Provider computes them once
// per reference file and reuses them until the file changes.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:8002", coqui.WithTimeout(60*time.Second))
//	wav, err := p.Synthesize(ctx, tts.Request{Text: "Привет", Language: "ru", ReferencePath: ref})
package coqui

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/vocalis/internal/lazy"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Provider)(nil)

// ---- constants ----

const (
	defaultLanguage      = "ru"
	defaultTimeout       = 60 * time.Second
	ttsEndpoint          = "/tts"
	cloneSpeakerEndpoint = "/clone_speaker"

	// xttsSampleRate is the output rate of XTTS v2 when the server returns
	// headerless PCM.
	xttsSampleRate = 24000
)

// ---- options ----

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language used when a request carries none.
// Defaults to "ru".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout for calls to the server.
// Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// ---- Provider ----

// Provider implements tts.Synthesizer backed by an XTTS streaming server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client

	mu      sync.Mutex
	latents map[string]*lazy.Value[*speakerLatents]
}

// New creates a new Coqui Provider that targets the XTTS server at serverURL
// ("http://localhost:8002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
		latents:    make(map[string]*lazy.Value[*speakerLatents]),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- internal request/response types ----

// speakerLatents is the JSON body returned by POST /clone_speaker and embedded
// in every POST /tts request.
type speakerLatents struct {
	GPTCondLatent    json.RawMessage `json:"gpt_cond_latent"`
	SpeakerEmbedding json.RawMessage `json:"speaker_embedding"`
}

// ttsRequest is the JSON body sent to POST /tts.
type ttsRequest struct {
	Text             string          `json:"text"`
	Language         string          `json:"language"`
	GPTCondLatent    json.RawMessage `json:"gpt_cond_latent"`
	SpeakerEmbedding json.RawMessage `json:"speaker_embedding"`
}

// ---- Synthesize ----

// Synthesize implements tts.Synthesizer. req.ReferencePath is required.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ReferencePath == "" {
		return nil, fmt.Errorf("coqui: %w", tts.ErrReferenceRequired)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	speaker, err := p.speaker(ctx, req.ReferencePath)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(ttsRequest{
		Text:             req.Text,
		Language:         lang,
		GPTCondLatent:    speaker.GPTCondLatent,
		SpeakerEmbedding: speaker.SpeakerEmbedding,
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	// The server answers with a JSON string holding base64 audio.
	var encoded string
	if err := json.NewDecoder(resp.Body).Decode(&encoded); err != nil {
		return nil, fmt.Errorf("coqui: decode tts response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("coqui: decode base64 audio: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("coqui: server returned no audio")
	}
	if audio.IsWAV(raw) {
		return raw, nil
	}
	return audio.WrapPCM(raw, xttsSampleRate, 1), nil
}

// ---- speaker latents ----

// speaker returns the cached latents for the reference at path, computing
// them on first use. The cache key includes the file's size and modification
// time so a re-enrolled reference is cloned again.
func (p *Provider) speaker(ctx context.Context, path string) (*speakerLatents, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("coqui: stat reference: %w", err)
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())

	p.mu.Lock()
	v, ok := p.latents[key]
	if !ok {
		v = lazy.New(func(ctx context.Context) (*speakerLatents, error) {
			return p.cloneSpeaker(ctx, path)
		})
		p.latents[key] = v
	}
	p.mu.Unlock()

	return v.Get(ctx)
}

// cloneSpeaker uploads the reference via POST /clone_speaker.
func (p *Provider) cloneSpeaker(ctx context.Context, path string) (*speakerLatents, error) {
	ref, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("coqui: read reference: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("wav_file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("coqui: create form file: %w", err)
	}
	if _, err := fw.Write(ref); err != nil {
		return nil, fmt.Errorf("coqui: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("coqui: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+cloneSpeakerEndpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("coqui: create clone-speaker request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", cloneSpeakerEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("coqui: POST %s returned status %d: %s", cloneSpeakerEndpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var latents speakerLatents
	if err := json.NewDecoder(resp.Body).Decode(&latents); err != nil {
		return nil, fmt.Errorf("coqui: decode clone-speaker response: %w", err)
	}
	if len(latents.GPTCondLatent) == 0 || len(latents.SpeakerEmbedding) == 0 {
		return nil, errors.New("coqui: clone-speaker response missing latents")
	}
	return &latents, nil
}
