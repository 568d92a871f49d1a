package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/vocalis/pkg/provider/llm"
)

func TestNew_EmptyProviderName(t *testing.T) {
	t.Parallel()

	if _, err := New("", "some-model"); err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()

	if _, err := New("ollama", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()

	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewOllama_Defaults(t *testing.T) {
	t.Parallel()

	p, err := NewOllama("", anyllmlib.WithBaseURL(DefaultOllamaBaseURL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model() != DefaultOllamaModel {
		t.Fatalf("model = %q, want %q", p.Model(), DefaultOllamaModel)
	}
}

func TestNew_Anthropic_WithAPIKey(t *testing.T) {
	t.Parallel()

	p, err := New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.name != "anthropic" {
		t.Fatalf("name = %q, want anthropic", p.name)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "qwen2.5:7b-instruct"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Привет"},
			{Role: llm.RoleAssistant, Content: "Здравствуйте"},
			{Role: llm.RoleUser, Content: "Как дела?"},
		},
		Temperature: llm.Float(0.7),
		MaxTokens:   128,
	})

	if len(params.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Fatalf("temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Fatalf("max tokens = %v, want 128", params.MaxTokens)
	}
}

func TestBuildParams_ReasoningModel(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "deepseek-reasoner"}
	params := p.buildParams(llm.CompletionRequest{Temperature: llm.Float(0.7)})
	if params.Temperature != nil {
		t.Fatalf("temperature = %v, want nil", *params.Temperature)
	}
}
