// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber turns one recorded utterance (an uploaded audio file) into
// text. Implementations wrap a local whisper.cpp model, a whisper-server HTTP
// endpoint or the Deepgram streaming API.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrNotRecognized is returned when the backend produced no text for the
	// supplied audio.
	ErrNotRecognized = errors.New("stt: speech was not recognized")

	// ErrUnsupportedAudio is returned when a backend cannot decode the audio
	// container it was given.
	ErrUnsupportedAudio = errors.New("stt: unsupported audio format")
)

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe returns the text spoken in the audio file at path. language is
	// an ISO 639-1 hint ("ru", "en"); empty means auto-detect where supported.
	// Implementations return ErrNotRecognized when the result is blank.
	Transcribe(ctx context.Context, path, language string) (string, error)
}
