package whisper_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	t.Parallel()

	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	t.Parallel()

	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeTranscribe_NonWAV_Unsupported(t *testing.T) {
	modelPath := testModelPath(t)
	n, err := whisper.NewNative(modelPath)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer n.Close()

	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("ID3 not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Transcribe(context.Background(), path, "ru"); !errors.Is(err, stt.ErrUnsupportedAudio) {
		t.Fatalf("err = %v, want ErrUnsupportedAudio", err)
	}
}

func TestNativeTranscribe_Silence_NotRecognized(t *testing.T) {
	modelPath := testModelPath(t)
	n, err := whisper.NewNative(modelPath, whisper.WithBeamSize(1))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer n.Close()

	clip := audio.Clip{SampleRate: 16000, Channels: 1, Samples: make([]int16, 16000)}
	path := filepath.Join(t.TempDir(), "silence.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(clip), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = n.Transcribe(context.Background(), path, "en")
	if err != nil && !errors.Is(err, stt.ErrNotRecognized) {
		t.Fatalf("unexpected error: %v", err)
	}
}
