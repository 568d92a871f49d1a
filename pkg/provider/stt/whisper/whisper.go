// Package whisper provides whisper.cpp-backed speech-to-text.
//
// [Server] talks to a running whisper-server binary over its REST API
// (POST /inference). [Native] links whisper.cpp through its CGO bindings and
// runs inference in-process; it needs libwhisper.a and whisper.h at build time.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// Compile-time assertion that Server implements stt.Transcriber.
var _ stt.Transcriber = (*Server)(nil)

// Server transcribes audio by uploading it to a whisper-server instance.
type Server struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithModel sets the model identifier forwarded to the server ("small",
// "base"). When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithTimeout sets the HTTP client timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.httpClient.Timeout = d }
}

// New returns a Server for the whisper-server at serverURL
// ("http://localhost:8080").
func New(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Transcribe implements stt.Transcriber. The file is uploaded as-is; the
// server is expected to run with --convert for non-WAV input.
func (s *Server) Transcribe(ctx context.Context, path, language string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("whisper: read audio: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("whisper: write audio data: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        language,
		"model":           s.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", stt.ErrNotRecognized
	}
	return text, nil
}
