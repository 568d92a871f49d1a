package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/vocalis/pkg/provider/llm"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
	"github.com/MrWong99/vocalis/pkg/provider/tts/convert"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory signatures per provider kind.
type (
	LLMFactory       func(ProviderEntry) (llm.Provider, error)
	STTFactory       func(ProviderEntry) (stt.Transcriber, error)
	TTSFactory       func(ProviderEntry) (tts.Synthesizer, error)
	ConverterFactory func(convert.Config) (tts.Converter, error)
)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	llm       map[string]LLMFactory
	stt       map[string]STTFactory
	tts       map[string]TTSFactory
	converter map[string]ConverterFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:       make(map[string]LLMFactory),
		stt:       make(map[string]STTFactory),
		tts:       make(map[string]TTSFactory),
		converter: make(map[string]ConverterFactory),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a remote STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterConverter registers a voice converter factory under name.
func (r *Registry) RegisterConverter(name string, factory ConverterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converter[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a synthesizer using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateConverter instantiates the converter registered under name.
func (r *Registry) CreateConverter(name string, cfg convert.Config) (tts.Converter, error) {
	r.mu.RLock()
	factory, ok := r.converter[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: converter/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// Names returns the sorted provider names registered for kind ("llm", "stt",
// "tts" or "converter").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	case "stt":
		return slices.Sorted(maps.Keys(r.stt))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts))
	case "converter":
		return slices.Sorted(maps.Keys(r.converter))
	}
	return nil
}
