package llm

import (
	"context"
	"fmt"
	"strings"
)

// reasoningPrefixes lists model-name prefixes of reasoning-class models, which
// reject a caller-supplied temperature.
var reasoningPrefixes = []string{
	"o1", "o3", "o4", "gpt-5", "deepseek-reasoner", "deepseek-r1", "qwq",
}

// IsReasoningModel reports whether model belongs to a reasoning-class family.
// A leading "vendor/" path segment is ignored.
func IsReasoningModel(model string) bool {
	name := strings.ToLower(model)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, p := range reasoningPrefixes {
		if name == p {
			return true
		}
		if rest, ok := strings.CutPrefix(name, p); ok && strings.ContainsRune("-:.", rune(rest[0])) {
			return true
		}
	}
	return false
}

// ShapeRequest applies per-model request policy before the request goes on the
// wire. The returned request shares Messages with req.
func ShapeRequest(model string, req CompletionRequest) CompletionRequest {
	if IsReasoningModel(model) {
		req.Temperature = nil
	}
	return req
}

// ChatMessages flattens SystemPrompt and Messages into one ordered list, for
// backends without a dedicated system field.
func ChatMessages(req CompletionRequest) []Message {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	return append(msgs, req.Messages...)
}

// unavailable is a Provider whose construction failed. Every call returns err,
// which lets a misconfigured entry take part in failover as a failing member
// instead of aborting startup.
type unavailable struct {
	name string
	err  error
}

// Unavailable returns a Provider that fails every call with err.
func Unavailable(name string, err error) Provider {
	return &unavailable{name: name, err: err}
}

func (u *unavailable) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	return nil, fmt.Errorf("%s: %w", u.name, u.err)
}

func (u *unavailable) StreamCompletion(context.Context, CompletionRequest) (<-chan Chunk, error) {
	return nil, fmt.Errorf("%s: %w", u.name, u.err)
}
