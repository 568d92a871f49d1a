// Package gemini provides an LLM provider backed by the Gemini
// generateContent REST API.
package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/pkg/provider/gemini"
	"github.com/MrWong99/vocalis/pkg/provider/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// Provider implements llm.Provider against the Gemini API.
type Provider struct {
	client *gemini.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides gemini.DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithTimeout sets the HTTP client timeout. Default 120s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Gemini provider. An empty apiKey yields
// llm.ErrMissingCredential. An empty model uses DefaultModel.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w: apiKey must not be empty", llm.ErrMissingCredential)
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{timeout: 120 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	client, err := gemini.NewClient(cfg.baseURL, apiKey, cfg.timeout)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

// ---- request body ----

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []gemini.Content `json:"contents"`
	SystemInstruction *gemini.Content  `json:"system_instruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

// buildRequest maps roles onto Gemini's user/model pair. System messages in
// the history are dropped; the system prompt travels as system_instruction.
func (p *Provider) buildRequest(req llm.CompletionRequest) generateRequest {
	req = llm.ShapeRequest(p.model, req)

	body := generateRequest{
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: req.SystemPrompt}}}
	}
	for _, m := range req.Messages {
		role := "user"
		switch m.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleAssistant:
			role = "model"
		}
		body.Contents = append(body.Contents, gemini.Content{
			Role:  role,
			Parts: []gemini.Part{{Text: m.Content}},
		})
	}
	return body
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.client.Generate(ctx, p.model, p.buildRequest(req))
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: no candidates: %w", llm.ErrEmptyCompletion)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini: empty response: %w", llm.ErrEmptyCompletion)
	}
	return &llm.CompletionResponse{Content: text}, nil
}

// StreamCompletion implements llm.Provider using streamGenerateContent with
// server-sent events.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	resp, err := p.client.Post(ctx, p.model, "streamGenerateContent", url.Values{"alt": {"sse"}}, p.buildRequest(req))
	if err != nil {
		return nil, classify(err)
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			var event gemini.GenerateResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &event); err != nil {
				send(llm.Chunk{FinishReason: llm.FinishError, Text: fmt.Sprintf("gemini: decode event: %v", err)})
				return
			}
			out := llm.Chunk{Text: event.Text()}
			if len(event.Candidates) > 0 {
				out.FinishReason = strings.ToLower(event.Candidates[0].FinishReason)
			}
			if out.Text == "" && out.FinishReason == "" {
				continue
			}
			if !send(out) {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(llm.Chunk{FinishReason: llm.FinishError, Text: fmt.Sprintf("gemini: read stream: %v", err)})
		}
	}()
	return ch, nil
}

func classify(err error) error {
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", &llm.StatusError{Provider: "gemini", Code: apiErr.StatusCode, Body: apiErr.Message}, err)
	}
	return err
}
