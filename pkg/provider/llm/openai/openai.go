// Package openai provides an LLM provider backed by the OpenAI chat completions
// API. The same client serves any OpenAI-compatible server (vLLM, LM Studio,
// llama.cpp server) through WithBaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/vocalis/pkg/provider/llm"
)

// Defaults for a locally hosted OpenAI-compatible server.
const (
	DefaultCompatBaseURL = "http://localhost:8001/v1"
	DefaultCompatModel   = "Qwen/Qwen2.5-7B-Instruct"
	DefaultCompatAPIKey  = "local"
	DefaultModel         = "gpt-4o-mini"
)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	name   string
}

var _ llm.Provider = (*Provider)(nil)

// settings collects what the options contribute: SDK request options and
// the label errors are reported under.
type settings struct {
	name    string
	reqOpts []option.RequestOption
}

// Option is a functional option for Provider.
type Option func(*settings)

// WithBaseURL points the client at another OpenAI-compatible root.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithBaseURL(url)) }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithOrganization(org)) }
}

// WithHeader adds a header to every request, e.g. a gateway routing key.
func WithHeader(key, value string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithHeader(key, value)) }
}

// WithTimeout bounds each HTTP request. Zero leaves the SDK default.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.reqOpts = append(s.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// WithName sets the provider name used in error messages. Defaults to "openai".
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// New constructs a new OpenAI LLM Provider. An empty apiKey yields
// llm.ErrMissingCredential.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, fmt.Errorf("openai: %w: apiKey must not be empty", llm.ErrMissingCredential)
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}

	// Failover is the router's job, so the SDK does not retry on its own.
	s := settings{
		name:    "openai",
		reqOpts: []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)},
	}
	for _, o := range opts {
		o(&s)
	}
	return &Provider{client: oai.NewClient(s.reqOpts...), model: model, name: s.name}, nil
}

// NewCompatible constructs a provider for a self-hosted OpenAI-compatible
// server. Empty arguments fall back to the local defaults.
func NewCompatible(baseURL, apiKey, model string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultCompatBaseURL
	}
	if apiKey == "" {
		apiKey = DefaultCompatAPIKey
	}
	if model == "" {
		model = DefaultCompatModel
	}
	opts = append([]Option{WithName("openai_compat"), WithBaseURL(baseURL)}, opts...)
	return New(apiKey, model, opts...)
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("%s: build params: %w", p.name, err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%s: start stream: %w", p.name, p.classify(err))
	}

	ch := make(chan llm.Chunk)
	go p.forward(ctx, stream, ch)
	return ch, nil
}

// forward relays content deltas from stream to ch and closes both. A stream
// failure becomes a final FinishError chunk.
func (p *Provider) forward(ctx context.Context, stream *ssestream.Stream[oai.ChatCompletionChunk], ch chan<- llm.Chunk) {
	defer close(ch)
	defer stream.Close()

	send := func(c llm.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for stream.Next() {
		cur := stream.Current()
		if len(cur.Choices) == 0 {
			continue
		}
		delta, reason := cur.Choices[0].Delta.Content, cur.Choices[0].FinishReason
		if delta == "" && reason == "" {
			continue
		}
		if !send(llm.Chunk{Text: delta, FinishReason: reason}) {
			return
		}
	}
	if err := stream.Err(); err != nil {
		send(llm.Chunk{FinishReason: llm.FinishError, Text: p.classify(err).Error()})
	}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("%s: build params: %w", p.name, err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: chat completion: %w", p.name, p.classify(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response: %w", p.name, llm.ErrEmptyCompletion)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%s: %w", p.name, llm.ErrEmptyCompletion)
	}
	return &llm.CompletionResponse{
		Content: content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// classify attaches an llm.StatusError to SDK errors that carry an HTTP status.
func (p *Provider) classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", &llm.StatusError{Provider: p.name, Code: apiErr.StatusCode}, err)
	}
	return err
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	req = llm.ShapeRequest(p.model, req)

	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range llm.ChatMessages(req) {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

// convertMessage converts an llm.Message to an OpenAI SDK message param.
func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil

	case llm.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
