package llm

import (
	"context"
	"errors"
	"testing"
)

func TestIsReasoningModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  bool
	}{
		{"o1", true},
		{"o3-mini", true},
		{"gpt-5-nano", true},
		{"deepseek/deepseek-r1", true},
		{"qwq:32b", true},
		{"gpt-5.1", true},
		{"openai/o3.x", true},
		{"gpt-4.1", false},
		{"gpt-4o-mini", false},
		{"Qwen/Qwen2.5-7B-Instruct", false},
		{"gemini-2.0-flash", false},
		{"o1x", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			if got := IsReasoningModel(tt.model); got != tt.want {
				t.Fatalf("IsReasoningModel(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestShapeRequest_DropsTemperatureForReasoningModels(t *testing.T) {
	t.Parallel()

	req := CompletionRequest{Temperature: Float(0.7)}
	if got := ShapeRequest("o3-mini", req); got.Temperature != nil {
		t.Fatalf("temperature = %v, want nil", *got.Temperature)
	}
	if got := ShapeRequest("gpt-4o-mini", req); got.Temperature == nil || *got.Temperature != 0.7 {
		t.Fatalf("temperature changed for non-reasoning model")
	}
}

func TestChatMessages(t *testing.T) {
	t.Parallel()

	msgs := ChatMessages(CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []Message{{Role: RoleUser, Content: "hi"}},
	})
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "be brief" {
		t.Fatalf("msgs[0] = %+v, want system prompt", msgs[0])
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	if err := (Message{Role: RoleUser, Content: "x"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Message{Role: "tool", Content: "x"}).Validate(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("err = %v, want ErrInvalidMessage", err)
	}
	if err := (Message{Role: RoleAssistant}).Validate(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("err = %v, want ErrInvalidMessage", err)
	}
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	p := Unavailable("openai", ErrMissingCredential)
	if _, err := p.Complete(context.Background(), CompletionRequest{}); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("Complete err = %v, want ErrMissingCredential", err)
	}
	if _, err := p.StreamCompletion(context.Background(), CompletionRequest{}); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("StreamCompletion err = %v, want ErrMissingCredential", err)
	}
}
