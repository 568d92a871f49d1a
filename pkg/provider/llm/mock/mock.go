// Package mock provides a scriptable llm.Provider for tests.
//
// Set the response fields for canned answers, or the Fn hooks when a test
// needs to look at the request or fail selectively. Every call is recorded.
//
//	p := mock.Reply("Привет! Как дела?")
//	r, _ := textgen.New(p, nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocalis/pkg/provider/llm"
)

// Call is one recorded request.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a test double for llm.Provider. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse and CompleteErr are returned by Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// CompleteFn, if set, replaces CompleteResponse and CompleteErr.
	CompleteFn func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// StreamChunks are sent in order by StreamCompletion unless StreamErr is
	// set, which fails the call before a channel exists.
	StreamChunks []llm.Chunk
	StreamErr    error

	// StreamFn, if set, replaces StreamChunks and StreamErr.
	StreamFn func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error)

	CompleteCalls []Call
	StreamCalls   []Call
}

var _ llm.Provider = (*Provider)(nil)

// Reply returns a Provider that answers text from Complete and streams it as
// a single chunk.
func Reply(text string) *Provider {
	return &Provider{
		CompleteResponse: &llm.CompletionResponse{Content: text},
		StreamChunks:     []llm.Chunk{{Text: text, FinishReason: "stop"}},
	}
}

// Complete records the call and answers from CompleteFn or the canned fields.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFn, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// StreamCompletion records the call and streams from StreamFn or
// StreamChunks. The channel closes early when ctx is cancelled.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
	fn, err := p.StreamFn, p.StreamErr
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CompleteCallCount returns the number of Complete calls so far.
func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// StreamCallCount returns the number of StreamCompletion calls so far.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// Reset forgets all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.StreamCalls = nil
}
