// Package worker provides a tts.Synthesizer that delegates voice cloning to a
// remote GPU worker over HTTP.
//
// The worker exposes POST /synthesize accepting multipart form data with the
// fields text and language and the file reference_audio. A 200 response body
// is the WAV output.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Client)(nil)

const defaultTimeout = 60 * time.Second

// ErrNotWAV is returned when the worker answers 200 with a body that is not a
// RIFF/WAVE file.
var ErrNotWAV = errors.New("worker: response is not WAV audio")

// Option is a functional option for Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client talks to a remote synthesis worker.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client for the worker at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("worker: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Synthesize implements tts.Synthesizer.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ReferencePath == "" {
		return nil, fmt.Errorf("worker: %w", tts.ErrReferenceRequired)
	}
	ref, err := os.ReadFile(req.ReferencePath)
	if err != nil {
		return nil, fmt.Errorf("worker: read reference: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("text", req.Text); err != nil {
		return nil, fmt.Errorf("worker: write text field: %w", err)
	}
	if err := mw.WriteField("language", req.Language); err != nil {
		return nil, fmt.Errorf("worker: write language field: %w", err)
	}
	fw, err := mw.CreateFormFile("reference_audio", filepath.Base(req.ReferencePath))
	if err != nil {
		return nil, fmt.Errorf("worker: create form file: %w", err)
	}
	if _, err := fw.Write(ref); err != nil {
		return nil, fmt.Errorf("worker: write reference: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("worker: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", &body)
	if err != nil {
		return nil, fmt.Errorf("worker: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("worker: POST /synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("worker: POST /synthesize returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("worker: read response: %w", err)
	}
	if !audio.IsWAV(wav) {
		return nil, ErrNotWAV
	}
	return wav, nil
}
