// Package deepgram provides a Deepgram-backed stt.Transcriber using the
// Deepgram streaming WebSocket API. The uploaded file is streamed as binary
// frames; Deepgram detects the container on its own.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "ru"

	// chunkSize is the size of each binary frame sent to Deepgram.
	chunkSize = 32 * 1024
)

// Compile-time assertion that Provider satisfies stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use ("nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the fallback language used when Transcribe gets none.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Transcriber backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Transcriber. It opens one streaming session per
// call, sends the whole file followed by CloseStream and joins every final
// result Deepgram returns before closing the socket.
func (p *Provider) Transcribe(ctx context.Context, path, language string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("deepgram: read audio: %w", err)
	}

	wsURL, err := p.buildURL(language)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	var finals []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writeAudio(gctx, conn, data) })
	g.Go(func() error {
		var err error
		finals, err = readFinals(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	text := strings.TrimSpace(strings.Join(finals, " "))
	if text == "" {
		return "", stt.ErrNotRecognized
	}
	return text, nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL(language string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	if language == "" {
		language = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func writeAudio(ctx context.Context, conn *websocket.Conn, data []byte) error {
	for len(data) > 0 {
		n := min(chunkSize, len(data))
		if err := conn.Write(ctx, websocket.MessageBinary, data[:n]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
		data = data[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// readFinals collects final transcripts until Deepgram sends its closing
// Metadata message or closes the connection normally.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]string, error) {
	var finals []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finals, nil
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "Metadata":
			return finals, nil
		case "Results":
			if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
				continue
			}
			if t := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript); t != "" {
				finals = append(finals, t)
			}
		}
	}
}
