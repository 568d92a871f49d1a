// Package mock provides test doubles for the stt package interfaces.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "Привет"}
//	text, _ := tr.Transcribe(ctx, "/tmp/in.wav", "ru")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	Ctx      context.Context
	Path     string
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err is nil.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Fn, if set, replaces Text/Err and is called with the arguments.
	Fn func(ctx context.Context, path, language string) (string, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Text, Err.
func (m *Transcriber) Transcribe(ctx context.Context, path, language string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{Ctx: ctx, Path: path, Language: language})
	fn, text, err := m.Fn, m.Text, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, path, language)
	}
	return text, err
}

// CallCount returns the number of Transcribe calls.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls. Configured responses are unchanged.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
