package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

// whisperSampleRate is the only input rate whisper.cpp accepts.
const whisperSampleRate = 16000

// Native runs whisper.cpp in-process. The model is loaded by NewNative and
// shared by all calls; each call gets its own inference context.
type Native struct {
	model    whisperlib.Model
	beamSize int
	threads  uint
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithBeamSize sets the beam-search width. Defaults to 5.
func WithBeamSize(n int) NativeOption {
	return func(nv *Native) { nv.beamSize = n }
}

// WithThreads sets the number of CPU threads per inference. Zero keeps the
// library default.
func WithThreads(n uint) NativeOption {
	return func(nv *Native) { nv.threads = n }
}

// NewNative loads the ggml model at modelPath ("models/ggml-small.bin").
// Loading takes seconds and allocates the model weights; callers should do it
// once. The caller must call Close when done.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, beamSize: 5}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. Only WAV input is decoded locally;
// other containers yield stt.ErrUnsupportedAudio.
func (n *Native) Transcribe(ctx context.Context, path, language string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("whisper: read audio: %w", err)
	}
	clip, err := audio.DecodeWAV(raw)
	if err != nil {
		return "", fmt.Errorf("whisper: %w: %w", stt.ErrUnsupportedAudio, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	samples := clip.Resample(whisperSampleRate).Float32()

	// Contexts are not thread-safe; the model is.
	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
		}
	}
	wctx.SetBeamSize(n.beamSize)
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", stt.ErrNotRecognized
	}
	return strings.Join(parts, " "), nil
}
