// Package anyllm provides an LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider client. Vocalis
// uses it for local Ollama inference and for the hosted backends that have no
// dedicated package (Anthropic, DeepSeek, Mistral, Groq, llama.cpp, llamafile).
//
// Usage:
//
//	p, err := anyllm.NewOllama("qwen2.5:7b-instruct", anyllmlib.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/vocalis/pkg/provider/llm"
)

// Ollama defaults.
const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "qwen2.5:7b-instruct"
)

type backendFunc func(...anyllmlib.Option) (anyllmlib.Provider, error)

// adapt turns a concrete any-llm-go constructor into a backendFunc.
func adapt[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) backendFunc {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := fn(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var backends = map[string]backendFunc{
	"openai":    adapt(anyllmoai.New),
	"anthropic": adapt(anthropic.New),
	"gemini":    adapt(gemini.New),
	"ollama":    adapt(ollama.New),
	"deepseek":  adapt(deepseek.New),
	"mistral":   adapt(mistral.New),
	"groq":      adapt(groq.New),
	"llamacpp":  adapt(llamacpp.New),
	"llamafile": adapt(llamafile.New),
}

// SupportedBackends lists the backend names accepted by New, sorted.
var SupportedBackends = slices.Sorted(maps.Keys(backends))

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New creates a new Provider backed by the given any-llm-go backend name.
//
// opts are any-llm-go configuration options (anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to its environment variable (ANTHROPIC_API_KEY, GROQ_API_KEY, ...).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	switch {
	case providerName == "":
		return nil, errors.New("anyllm: providerName must not be empty")
	case model == "":
		return nil, errors.New("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, name: strings.ToLower(providerName), model: model}, nil
}

// NewOllama creates a Provider backed by Ollama (local inference). Empty
// model falls back to DefaultOllamaModel.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		model = DefaultOllamaModel
	}
	return New("ollama", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	fn, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(SupportedBackends, ", "))
	}
	return fn(opts...)
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params := p.buildParams(req)

	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	out := make(chan llm.Chunk)
	emit := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			c := llm.Chunk{Text: chunk.Choices[0].Delta.Content, FinishReason: chunk.Choices[0].FinishReason}
			if c.Text == "" && c.FinishReason == "" {
				continue
			}
			if !emit(c) {
				return
			}
		}
		// The error channel is only meaningful once the chunks are drained.
		if err := <-backendErrs; err != nil {
			emit(llm.Chunk{FinishReason: llm.FinishError, Text: fmt.Sprintf("%s: %v", p.name, err)})
		}
	}()
	return out, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params := p.buildParams(req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response: %w", p.name, llm.ErrEmptyCompletion)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if content == "" {
		return nil, fmt.Errorf("%s: %w", p.name, llm.ErrEmptyCompletion)
	}
	result := &llm.CompletionResponse{Content: content}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// buildParams converts our CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	req = llm.ShapeRequest(p.model, req)

	msgs := llm.ChatMessages(req)
	messages := make([]anyllmlib.Message, 0, len(msgs))
	for _, m := range msgs {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != nil {
		t := *req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
