package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/vocalis/pkg/provider/llm"
)

func TestNew_MissingKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); !errors.Is(err, llm.ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
}

func TestBuildRequest_RoleMapping(t *testing.T) {
	t.Parallel()

	p, err := New("k", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body := p.buildRequest(llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "ignored"},
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "hello"},
		},
		Temperature: llm.Float(0.7),
	})

	if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "sys" {
		t.Fatalf("system_instruction = %+v", body.SystemInstruction)
	}
	if len(body.Contents) != 2 {
		t.Fatalf("contents = %d, want 2", len(body.Contents))
	}
	if body.Contents[1].Role != "model" {
		t.Fatalf("assistant role = %q, want model", body.Contents[1].Role)
	}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New("k", "gemini-2.0-flash", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestComplete(t *testing.T) {
	t.Parallel()

	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if _, ok := body["system_instruction"]; !ok {
			t.Error("system_instruction missing")
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Привет!"}]}}]}`)
	})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Привет!" {
		t.Fatalf("content = %q, want %q", resp.Content, "Привет!")
	}
}

func TestComplete_NoCandidates(t *testing.T) {
	t.Parallel()

	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	})
	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, llm.ErrEmptyCompletion) {
		t.Fatalf("err = %v, want ErrEmptyCompletion", err)
	}
}

func TestComplete_StatusError(t *testing.T) {
	t.Parallel()

	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"internal"}}`)
	})
	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	var se *llm.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Fatalf("err = %v, want StatusError 500", err)
	}
}

func TestStreamCompletion(t *testing.T) {
	t.Parallel()

	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"При\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"вет\"}]},\"finishReason\":\"STOP\"}]}\n\n")
	})

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var sb strings.Builder
	var last llm.Chunk
	for c := range ch {
		sb.WriteString(c.Text)
		last = c
	}
	if sb.String() != "Привет" {
		t.Fatalf("streamed = %q, want %q", sb.String(), "Привет")
	}
	if last.FinishReason != "stop" {
		t.Fatalf("finish reason = %q, want stop", last.FinishReason)
	}
}
