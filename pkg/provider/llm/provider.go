// Package llm defines the Provider interface for text-generation backends.
//
// A Provider wraps a remote or local chat model (an OpenAI-compatible endpoint,
// Gemini, a local Ollama instance, ...) and exposes a uniform interface so the
// text-generation router can fail over between them without coupling to any SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrEmptyCompletion is returned when a backend answered successfully but the
	// answer contained no usable text.
	ErrEmptyCompletion = errors.New("llm: empty completion")

	// ErrMissingCredential is returned when a backend that requires an API key was
	// configured without one.
	ErrMissingCredential = errors.New("llm: missing credential")

	// ErrInvalidMessage is returned by Message.Validate.
	ErrInvalidMessage = errors.New("llm: invalid message")
)

// Message is a single entry of the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Validate reports whether m has a known role and non-empty content.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: content must not be empty", ErrInvalidMessage)
	}
	return nil
}

// StatusError is returned when a backend responds with a non-2xx HTTP status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Code, e.Body)
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is the user turn.
	Messages []Message

	// SystemPrompt is injected before Messages. Providers without a dedicated
	// system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature controls output randomness. Nil means the provider default.
	// ShapeRequest clears it for reasoning-class models.
	Temperature *float64

	// MaxTokens caps the number of completion tokens. Zero means no cap.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk. The value "error" marks a stream
	// that failed after it was opened; Text then carries the error message.
	FinishReason string
}

// FinishError is the FinishReason emitted when a stream fails mid-flight.
const FinishError = "error"

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that emits
	// Chunk values as they arrive. The channel is closed when generation finishes
	// or ctx is cancelled. Errors after the stream opened are surfaced as a Chunk
	// with FinishReason FinishError. The returned channel is never nil when error
	// is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Float returns a pointer to v, for CompletionRequest.Temperature.
func Float(v float64) *float64 { return &v }
