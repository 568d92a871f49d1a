package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/vocalis/internal/app"
	"github.com/MrWong99/vocalis/internal/artifact"
	"github.com/MrWong99/vocalis/internal/config"
	llmmock "github.com/MrWong99/vocalis/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/vocalis/pkg/provider/stt/mock"
)

// testConfig returns a validated config rooted in a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	yaml := "server:\n  listen_addr: 127.0.0.1:0\n  shutdown_timeout: 2s\nstorage:\n  data_dir: " +
		filepath.ToSlash(t.TempDir()) + "\n"
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM: llmmock.Reply("Здравствуйте!"),
		STT: &sttmock.Transcriber{Text: "Привет"},
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if a.Handler() == nil {
		t.Fatal("Handler() is nil")
	}
	if a.Addr() != nil {
		t.Errorf("Addr() = %v before Run, want nil", a.Addr())
	}
}

func TestNew_RequiresTextProvider(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(t), &app.Providers{})
	if err == nil {
		t.Fatal("expected error without an LLM, got nil")
	}
	if !strings.Contains(err.Error(), "text generation") {
		t.Errorf("error = %v, want mention of text generation", err)
	}
}

func TestChat_ThroughHandler(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg, testProviders())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/api/v1/assistant/chat", "application/json",
		strings.NewReader(`{"text":"Привет","generate_audio":false}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body struct {
		UserText      string  `json:"user_text"`
		AssistantText string  `json:"assistant_text"`
		AudioURL      *string `json:"audio_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AssistantText != "Здравствуйте!" {
		t.Errorf("assistant_text = %q, want %q", body.AssistantText, "Здравствуйте!")
	}
	if body.AudioURL != nil {
		t.Errorf("audio_url = %q, want null", *body.AudioURL)
	}
}

func TestWithArtifactStore_IsUsed(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	store, err := artifact.NewFileStore(filepath.Join(t.TempDir(), "custom"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	a, err := app.New(context.Background(), cfg, testProviders(), app.WithArtifactStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown #%d: %v", i+1, err)
		}
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("Run did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/api/v1/health")
	if err != nil {
		cancel()
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after Run: %v", err)
	}
}
