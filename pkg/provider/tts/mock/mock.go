// Package mock provides test doubles for the tts package interfaces.
//
// Example:
//
//	s := &mock.Synthesizer{Audio: wav}
//	out, _ := s.Synthesize(ctx, tts.Request{Text: "Привет"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

var (
	_ tts.Synthesizer = (*Synthesizer)(nil)
	_ tts.Converter   = (*Converter)(nil)
)

// SynthesizeCall records a single invocation of Synthesizer.Synthesize.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.Request
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned by Synthesize when Err is nil.
	Audio []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records every call to Synthesize.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Audio, Err.
func (m *Synthesizer) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, SynthesizeCall{Ctx: ctx, Req: req})
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Audio, nil
}

// CallCount returns the number of Synthesize calls.
func (m *Synthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls.
func (m *Synthesizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// ConvertCall records a single invocation of Converter.Convert.
type ConvertCall struct {
	Base          []byte
	ReferencePath string
}

// Converter is a mock implementation of tts.Converter.
type Converter struct {
	mu sync.Mutex

	// Audio is returned by Convert when Err is nil. When nil, Convert returns
	// its input unchanged.
	Audio []byte

	// Err, if non-nil, is returned as the error from Convert.
	Err error

	// Calls records every call to Convert.
	Calls []ConvertCall
}

// Convert records the call and returns Audio, Err.
func (m *Converter) Convert(_ context.Context, base []byte, referencePath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, ConvertCall{Base: base, ReferencePath: referencePath})
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Audio == nil {
		return base, nil
	}
	return m.Audio, nil
}

// CallCount returns the number of Convert calls.
func (m *Converter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls.
func (m *Converter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
