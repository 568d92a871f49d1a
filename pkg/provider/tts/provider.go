// Package tts defines the interfaces for voice synthesis backends.
//
// A [Synthesizer] turns a reply into WAV audio, optionally in the voice of a
// reference recording. A [Converter] re-voices an existing recording so that
// it sounds like the reference speaker. Backends include a Coqui XTTS clone
// engine, a remote clone worker, Gemini and Google Cloud base voices and an
// external conversion command.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

var (
	// ErrEmptyText is returned when Synthesize is called without text.
	ErrEmptyText = errors.New("tts: text must not be empty")

	// ErrReferenceRequired is returned by cloning backends when the request
	// carries no reference recording.
	ErrReferenceRequired = errors.New("tts: reference audio is required")
)

// Request is a single synthesis call.
type Request struct {
	// Text is the sentence or paragraph to speak.
	Text string

	// Language is an ISO 639-1 code ("ru", "en").
	Language string

	// ReferencePath is the speaker's reference recording. Cloning backends
	// require it; base voices ignore it.
	ReferencePath string
}

// Validate reports whether r carries text.
func (r Request) Validate() error {
	if r.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// Synthesizer is the abstraction over any speech synthesis backend.
type Synthesizer interface {
	// Synthesize returns a complete WAV file for req.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// Converter re-voices audio with a reference speaker.
type Converter interface {
	// Convert returns base re-spoken in the voice of the recording at
	// referencePath. Both input and output are WAV files.
	Convert(ctx context.Context, base []byte, referencePath string) ([]byte, error)
}
