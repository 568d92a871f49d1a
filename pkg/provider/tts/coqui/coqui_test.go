package coqui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

// ---- test helpers ----

type fakeXTTS struct {
	clones    atomic.Int32
	failClone atomic.Bool
	ttsMu     sync.Mutex
	last      ttsRequest
	// raw is returned base64-encoded from /tts.
	raw []byte
}

func (f *fakeXTTS) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /clone_speaker", func(w http.ResponseWriter, r *http.Request) {
		if f.failClone.Load() {
			http.Error(w, "CUDA out of memory", http.StatusInternalServerError)
			return
		}
		if _, _, err := r.FormFile("wav_file"); err != nil {
			http.Error(w, "missing wav_file", http.StatusBadRequest)
			return
		}
		f.clones.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"gpt_cond_latent":[[0.1,0.2]],"speaker_embedding":[0.3]}`))
	})
	mux.HandleFunc("POST /tts", func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.ttsMu.Lock()
		f.last = req
		f.ttsMu.Unlock()
		_ = json.NewEncoder(w).Encode(base64.StdEncoding.EncodeToString(f.raw))
	})
	return httptest.NewServer(mux)
}

func writeReference(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reference.wav")
	clip := audio.Clip{SampleRate: 16000, Channels: 1, Samples: make([]int16, 1600)}
	if err := os.WriteFile(path, audio.EncodeWAV(clip), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002/")
		if p.serverURL != "http://localhost:8002" {
			t.Errorf("serverURL = %q, want %q", p.serverURL, "http://localhost:8002")
		}
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
	})
	t.Run("options", func(t *testing.T) {
		p := mustNew(t, "http://x", WithLanguage("en"), WithTimeout(5*time.Second))
		if p.language != "en" || p.httpClient.Timeout != 5*time.Second {
			t.Errorf("options not applied: language=%q timeout=%v", p.language, p.httpClient.Timeout)
		}
	})
	t.Run("empty url", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Error("expected error for empty serverURL")
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_ClonesOncePerReference(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(audio.Clip{SampleRate: 24000, Channels: 1, Samples: []int16{1, 2, 3}})
	fake := &fakeXTTS{raw: wav}
	srv := fake.server(t)
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ref := writeReference(t)

	for range 3 {
		got, err := p.Synthesize(context.Background(), tts.Request{Text: "Привет", Language: "ru", ReferencePath: ref})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if string(got) != string(wav) {
			t.Fatalf("audio = %d bytes, want the server's WAV", len(got))
		}
	}
	if n := fake.clones.Load(); n != 1 {
		t.Fatalf("clone calls = %d, want 1", n)
	}

	fake.ttsMu.Lock()
	defer fake.ttsMu.Unlock()
	if fake.last.Text != "Привет" || fake.last.Language != "ru" {
		t.Fatalf("tts request = %+v, want text Привет language ru", fake.last)
	}
	if string(fake.last.SpeakerEmbedding) != "[0.3]" {
		t.Fatalf("speaker_embedding = %s, want [0.3]", fake.last.SpeakerEmbedding)
	}
}

func TestSynthesize_ReenrolledReferenceClonesAgain(t *testing.T) {
	t.Parallel()

	fake := &fakeXTTS{raw: []byte{1, 0, 2, 0}}
	srv := fake.server(t)
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ref := writeReference(t)
	req := tts.Request{Text: "раз", ReferencePath: ref}

	if _, err := p.Synthesize(context.Background(), req); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(ref, later, later); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Synthesize(context.Background(), req); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if n := fake.clones.Load(); n != 2 {
		t.Fatalf("clone calls = %d, want 2", n)
	}
}

func TestSynthesize_WrapsHeaderlessPCM(t *testing.T) {
	t.Parallel()

	fake := &fakeXTTS{raw: []byte{1, 0, 2, 0, 3, 0}}
	srv := fake.server(t)
	defer srv.Close()

	p := mustNew(t, srv.URL)
	got, err := p.Synthesize(context.Background(), tts.Request{Text: "x", ReferencePath: writeReference(t)})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	clip, err := audio.DecodeWAV(got)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if clip.SampleRate != xttsSampleRate || len(clip.Samples) != 3 {
		t.Fatalf("clip = %d Hz / %d samples, want %d Hz / 3", clip.SampleRate, len(clip.Samples), xttsSampleRate)
	}
}

func TestSynthesize_Validation(t *testing.T) {
	t.Parallel()

	p := mustNew(t, "http://127.0.0.1:1")
	if _, err := p.Synthesize(context.Background(), tts.Request{ReferencePath: "x"}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text: err = %v, want ErrEmptyText", err)
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); !errors.Is(err, tts.ErrReferenceRequired) {
		t.Errorf("no reference: err = %v, want ErrReferenceRequired", err)
	}
}

func TestSynthesize_CloneFailureNotCached(t *testing.T) {
	t.Parallel()

	fake := &fakeXTTS{raw: []byte{1, 0}}
	fake.failClone.Store(true)
	srv := fake.server(t)
	defer srv.Close()

	p := mustNew(t, srv.URL)
	req := tts.Request{Text: "x", ReferencePath: writeReference(t)}
	if _, err := p.Synthesize(context.Background(), req); err == nil {
		t.Fatal("expected clone failure")
	}
	fake.failClone.Store(false)
	if _, err := p.Synthesize(context.Background(), req); err != nil {
		t.Fatalf("Synthesize after recovery: %v", err)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x", ReferencePath: writeReference(t)}); err == nil {
		t.Fatal("expected error from failing server")
	}
}
